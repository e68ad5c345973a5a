package tab

import (
	"sync/atomic"
	"unsafe"

	"github.com/halcyon-os/ktab/lib/pfa"
)

// tombSentinel is the "pointer" value marking a permanently retired
// trie level. It compares unequal to nil and to every live page.
var tombSentinel = unsafe.Pointer(new(byte))

// encState is the decoded state of an encodedPtr.
type encState int

const (
	// encNull: never allocated.
	encNull encState = iota
	// encTomb: permanently retired.
	encTomb
	// encLive: points at an allocated, zero-initialized page.
	encLive
)

// encodedPtr is an atomic pointer with three logical states: null,
// tombstone, and live. T must be a type whose zero value is valid and
// whose size is exactly one page; pointees are typed heap objects from
// the allocator, so the collector traces the word as long as it is
// stored inside another typed object.
type encodedPtr[T any] struct {
	p unsafe.Pointer
}

// load decodes the pointer without ever allocating.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *encodedPtr[T]) load() (*T, encState) {
	p := atomic.LoadPointer(&e.p)
	switch p {
	case nil:
		return nil, encNull
	case tombSentinel:
		return nil, encTomb
	default:
		return (*T)(p), encLive
	}
}

// getOrAlloc returns the live pointee, allocating it if this is the
// first access. The null-to-live transition is race safe: on a lost
// compare-and-swap the redundant page is handed back and the winner's
// pointer adopted. Returns ErrOutOfMemory if the allocator is
// exhausted; never panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *encodedPtr[T]) getOrAlloc(alloc pfa.Allocator[T]) (*T, error) {
	p := atomic.LoadPointer(&e.p)
	if p == tombSentinel {
		return nil, errLevelTombstoned
	}
	if p == nil {
		page, ok := alloc.Allocate()
		if !ok {
			return nil, ErrOutOfMemory
		}
		// The page comes back zeroed, which is exactly T's zero value.
		fresh := unsafe.Pointer(page)
		if atomic.CompareAndSwapPointer(&e.p, nil, fresh) {
			tabPagesAlloced.Inc()
			p = fresh
		} else {
			// Another core won the race; free our page and adopt theirs.
			alloc.Free(page)
			p = atomic.LoadPointer(&e.p)
			if p == tombSentinel {
				return nil, errLevelTombstoned
			}
		}
	}
	return (*T)(p), nil
}
