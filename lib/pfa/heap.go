package pfa

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var pfaLog = logger.GetLogger("pfa")

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	pagesAllocated = metrics.NewCounter("pfa_pages_allocated_total")
	pagesRecycled  = metrics.NewCounter("pfa_pages_recycled_total")
	pagesFreed     = metrics.NewCounter("pfa_pages_freed_total")
	pagesDenied    = metrics.NewCounter("pfa_pages_denied_total")
)

// --------------------------------------------------------------------------
// Page budget
// --------------------------------------------------------------------------

// BudgetOptions configures a Budget.
type BudgetOptions struct {
	// MaxPages caps the number of live pages (0 = unlimited). Allocate
	// returns false once the cap is reached, until pages are freed.
	MaxPages int
}

// DefaultBudgetOptions returns the default Budget options.
func DefaultBudgetOptions() *BudgetOptions {
	return &BudgetOptions{MaxPages: 0}
}

// Budget counts live pages against a cap. One budget is typically
// shared by several typed allocators (one per page type), so the cap
// covers their combined footprint.
type Budget struct {
	maxPages int
	live     atomic.Int64
}

// NewBudget creates a page budget with the specified options (optional).
//
// Thread-safety: the returned budget is safe for concurrent use.
func NewBudget(opts *BudgetOptions) *Budget {
	if opts == nil {
		opts = DefaultBudgetOptions()
	}
	return &Budget{maxPages: opts.MaxPages}
}

var (
	sharedOnce sync.Once
	sharedPfa  *Budget
)

// Shared returns the process-wide page budget. It is created lazily on
// first access, is unlimited, and lives for the lifetime of the process.
func Shared() *Budget {
	sharedOnce.Do(func() {
		sharedPfa = NewBudget(nil)
	})
	return sharedPfa
}

// reserve claims one page against the cap, or reports the denial.
func (b *Budget) reserve() bool {
	if b.maxPages > 0 {
		if b.live.Add(1) > int64(b.maxPages) {
			b.live.Add(-1)
			pagesDenied.Inc()
			pfaLog.Warningf("page allocation denied, %d pages live (cap %d)", b.Live(), b.maxPages)
			return false
		}
	} else {
		b.live.Add(1)
	}
	return true
}

// unreserve gives one page back to the budget.
func (b *Budget) unreserve() {
	b.live.Add(-1)
}

// Live returns the number of pages currently handed out.
func (b *Budget) Live() int64 {
	return b.live.Load()
}

// --------------------------------------------------------------------------
// Heap allocator
// --------------------------------------------------------------------------

// HeapAllocator is an Allocator backed by the Go heap. Objects are
// allocated as ordinary typed values, so the runtime tracks any pointer
// fields the page type carries; freed pages are parked in a lock-free
// queue and handed out again (re-zeroed) before any new page is
// allocated. The recycle queue is per page type, the budget may be
// shared.
type HeapAllocator[T any] struct {
	budget  *Budget
	recycle *pageQueue[T]
}

// NewHeapAllocator creates a heap-backed allocator for page type T,
// drawing on the given budget (nil = the shared process budget).
//
// Thread-safety: the returned allocator is safe for concurrent use.
func NewHeapAllocator[T any](budget *Budget) *HeapAllocator[T] {
	var zero T
	if unsafe.Sizeof(zero) != PageSize {
		panic("pfa: page type is not exactly one page")
	}
	if budget == nil {
		budget = Shared()
	}
	return &HeapAllocator[T]{
		budget:  budget,
		recycle: newPageQueue[T](),
	}
}

// Allocate returns a zeroed object, or false if the page cap is reached.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *HeapAllocator[T]) Allocate() (*T, bool) {
	if !h.budget.reserve() {
		return nil, false
	}

	// Prefer a recycled page; it must be re-zeroed since the previous
	// holder may have written anything into it.
	if page, ok := h.recycle.TryPop(); ok {
		var zero T
		*page = zero
		pagesRecycled.Inc()
		return page, true
	}

	pagesAllocated.Inc()
	return new(T), true
}

// Free returns an object to the allocator for reuse.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *HeapAllocator[T]) Free(page *T) {
	if page == nil {
		return
	}
	h.budget.unreserve()
	pagesFreed.Inc()
	h.recycle.Push(page)
}

// Close stops the recycle queue. The allocator keeps working afterwards
// but recycling is disabled; only needed for short-lived allocators.
func (h *HeapAllocator[T]) Close() error {
	h.recycle.Close()
	return nil
}
