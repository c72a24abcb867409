//go:build linux

package watching

// defaultBackendOrder returns the platform's backend preference order for
// "default" resolution: Watchman first (if the daemon is reachable), then
// the native Linux backend, falling back to brute-force tree diffing.
func defaultBackendOrder() []string {
	return []string{BackendWatchman, BackendInotify, BackendBruteForce}
}
