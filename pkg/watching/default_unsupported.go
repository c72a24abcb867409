//go:build !linux && !darwin && !windows

package watching

// defaultBackendOrder returns the platform's backend preference order for
// "default" resolution on platforms with no native backend: Watchman if
// reachable, otherwise brute-force tree diffing.
func defaultBackendOrder() []string {
	return []string{BackendWatchman, BackendBruteForce}
}
