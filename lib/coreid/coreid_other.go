//go:build !linux

package coreid

// defaultCoreID reports a single core on platforms without a cheap
// thread-identity syscall. Reentrancy still works; cross-core
// exclusion degenerates to none, which only matters for the kernel's
// own builds where a real query is installed at boot.
func defaultCoreID() uint32 {
	return 0
}
