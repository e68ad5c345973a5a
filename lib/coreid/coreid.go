// Package coreid answers "which core is executing right now?".
//
// The handle table's per-slot lock is core-affine: a writer may
// re-acquire a lock it already holds, but only from the same core. The
// kernel installs its real core-id query exactly once at boot via
// Install; before that, a platform default is used that maps a core to
// the current OS thread. Callers that rely on affinity across calls
// must pin their goroutine with runtime.LockOSThread.
package coreid

import "sync/atomic"

// provider holds the installed query, or nil for the platform default.
var provider atomic.Pointer[func() uint32]

// Install sets the process-wide core-id query. It must be called at
// most once, before any slot locking occurs; a second call panics.
func Install(fn func() uint32) {
	if fn == nil {
		panic("coreid: Install called with nil query")
	}
	if !provider.CompareAndSwap(nil, &fn) {
		panic("coreid: query already installed")
	}
}

// Current returns the id of the executing core.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Current() uint32 {
	if fn := provider.Load(); fn != nil {
		return (*fn)()
	}
	return defaultCoreID()
}
