// Package pfa provides the page frame allocator consumed by the handle
// table: a source of zeroed, exactly 4096-byte objects.
//
// The package defines the generic Allocator[T] interface plus a
// heap-backed implementation that allocates pages as typed Go values
// (so the garbage collector scans any pointer words the page type
// carries) and recycles freed pages through a lock-free queue. Typed
// allocators draw on a shared Budget, which can be capped (see
// BudgetOptions.MaxPages) so that callers - primarily tests - can
// drive allocation-failure paths deterministically.
package pfa
