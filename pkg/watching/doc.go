// Package watching implements a cross-platform recursive filesystem change
// notifier. It unifies four event sources - Linux inotify, macOS FSEvents,
// Windows' overlapped ReadDirectoryChangesW, and an external Watchman daemon
// - plus a brute-force tree-diffing fallback, behind one subscription model
// and one directory-tree snapshot format.
//
// Callers interact with the package through three functions: WriteSnapshot
// and GetEventsSince for point-in-time diffs, and Subscribe for a live,
// debounced, coalesced event stream; Subscribe returns the function that
// ends the subscription. Everything else - Watcher, Backend, DirTree,
// EventList, Debouncer, Signal - is internal plumbing shared by those
// operations.
package watching
