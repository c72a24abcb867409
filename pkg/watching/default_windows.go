//go:build windows

package watching

// defaultBackendOrder returns the platform's backend preference order for
// "default" resolution: Watchman first (if the daemon is reachable), then
// the native Windows backend, falling back to brute-force tree diffing.
func defaultBackendOrder() []string {
	return []string{BackendWatchman, BackendWindows, BackendBruteForce}
}
