//go:build darwin

package watching

// defaultBackendOrder returns the platform's backend preference order for
// "default" resolution: the native FSEvents backend first, then Watchman,
// falling back to brute-force tree diffing.
func defaultBackendOrder() []string {
	return []string{BackendFSEvents, BackendWatchman, BackendBruteForce}
}
