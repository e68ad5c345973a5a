//go:build linux

package coreid

import "golang.org/x/sys/unix"

// defaultCoreID identifies a core with the calling OS thread. Thread
// ids are stable for goroutines pinned with runtime.LockOSThread.
func defaultCoreID() uint32 {
	return uint32(unix.Gettid())
}
