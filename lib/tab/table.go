package tab

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/halcyon-os/ktab/lib/pfa"
)

var tabLog = logger.GetLogger("tab")

// DefaultMaxVersion is the version cap before a slot address is
// tombstoned: the full 29-bit version space. It must be a power of two
// minus one, as it doubles as a mask.
const DefaultMaxVersion = versionMask

// --------------------------------------------------------------------------
// Table construction
// --------------------------------------------------------------------------

// Options configures a Table.
type Options struct {
	// Budget is the page budget the table's level allocators draw on
	// (nil = the shared process budget). Trie levels and slot pages are
	// typed heap objects, so everything reachable through the table is
	// visible to the garbage collector.
	Budget *pfa.Budget

	// MaxVersion caps slot versions (0 = DefaultMaxVersion). It must
	// be a power of two minus one. Tests use small caps (e.g. 255) to
	// exercise tombstoning in a few hundred cycles.
	MaxVersion uint64

	// ZombieTombs wraps a saturated version back to zero instead of
	// tombstoning the slot, trading unbounded reuse for a small
	// long-term ABA risk. Off by default: safe and secure by default.
	ZombieTombs bool
}

// DefaultOptions returns the default Table options.
func DefaultOptions() *Options {
	return &Options{
		Budget:     pfa.Shared(),
		MaxVersion: DefaultMaxVersion,
	}
}

// levelAllocs is one typed allocator per trie level, all drawing on
// the table's budget.
type levelAllocs struct {
	top   pfa.Allocator[topTable]
	mid   pfa.Allocator[midTable]
	leaf  pfa.Allocator[leafTable]
	slots pfa.Allocator[slotList]
}

// Table is the handle table described in the package documentation.
// All bookkeeping (counter, free list, trie pointers, slot metadata)
// is lock free; only page allocation may block, inside the allocator.
type Table struct {
	// counter mints brand-new slot addresses. It never decreases, so
	// the counter path can never re-issue an address.
	counter atomic.Uint64
	// lastFree heads the LIFO list of reusable slot addresses, or
	// freeListEmpty when there are none.
	lastFree atomic.Uint64
	// root of the lazily materialized 4-level trie.
	root encodedPtr[topTable]

	allocs      levelAllocs
	maxVersion  uint64
	zombieTombs bool

	tombs atomic.Uint64
}

// New creates a table with the specified options (optional).
//
// Thread-safety: the returned table is safe for concurrent use by any
// number of cores; construction itself is not.
func New(opts *Options) *Table {
	if opts == nil {
		opts = DefaultOptions()
	}

	budget := opts.Budget
	if budget == nil {
		budget = pfa.Shared()
	}
	maxVersion := opts.MaxVersion
	if maxVersion == 0 {
		maxVersion = DefaultMaxVersion
	}
	if debugChecks && maxVersion&(maxVersion+1) != 0 {
		panic("ktab: MaxVersion must be a power of two minus one")
	}

	t := &Table{
		allocs: levelAllocs{
			top:   pfa.NewHeapAllocator[topTable](budget),
			mid:   pfa.NewHeapAllocator[midTable](budget),
			leaf:  pfa.NewHeapAllocator[leafTable](budget),
			slots: pfa.NewHeapAllocator[slotList](budget),
		},
		maxVersion:  maxVersion,
		zombieTombs: opts.ZombieTombs,
	}
	t.lastFree.Store(freeListEmpty)
	return t
}

var (
	globalOnce  sync.Once
	globalTable *Table
)

// Global returns the process-wide table. It is created lazily on first
// access and lives for the lifetime of the kernel; there is no
// teardown path.
func Global() *Table {
	globalOnce.Do(func() {
		globalTable = New(nil)
	})
	return globalTable
}

// --------------------------------------------------------------------------
// Core operations
// --------------------------------------------------------------------------

// Add inserts an item into the table and returns its globally unique
// handle, with the reference count at 1.
//
// The slot comes from the free list when possible; otherwise a fresh
// slot address is minted and its backing pages materialized, which is
// the one path that can fail: ErrOutOfMemory when the page allocator
// is exhausted.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Add[T Entity](t *Table, item T) (*Tab[T], error) {
	var (
		s  *slot
		id uint64
	)

	for {
		lastFree := t.lastFree.Load()

		if lastFree == freeListEmpty {
			counter := t.counter.Add(1) - 1
			if counter >= 1<<slotAddrBits {
				// 2^34 addresses minted; cannot happen in reality.
				if debugChecks {
					panic("ktab: out of slot addresses")
				}
				return nil, ErrTableFull
			}
			id = counter<<versionBits | dynamicBit
			var err error
			if s, err = t.getOrAllocSlot(id); err != nil {
				return nil, err
			}
			break
		}

		// Free slots are guaranteed to have their backing pages
		// allocated, so this resolution cannot fail.
		candidate := t.tryGetSlot(lastFree)

		// Read its link optimistically: if the head compare-and-swap
		// below fails, another core claimed the slot and the value we
		// read is not a link anymore. We then discard it and retry.
		next := candidate.nextFree()
		if !t.lastFree.CompareAndSwap(lastFree, next) {
			continue
		}

		// Sanity check now that the slot is exclusively ours.
		if debugChecks && candidate.ty() != TypeFree {
			panic("precondition failed: free-list slot is not free")
		}

		// The lock word stops being a free-list link here.
		candidate.setNextFree(0)

		s, id = candidate, lastFree
		break
	}

	box := new(T)
	*box = item
	ver := s.claimUnchecked(unsafe.Pointer(box), typeOf[T](), t.maxVersion, t.zombieTombs)

	// Replace the version in the id.
	id = id&^versionMask | ver

	tabAdds.Inc()
	return newFreshTab[T](t, id, s), nil
}

// LookupAny resolves an id to a type-erased handle, if the id refers
// to a live entry. The walk never allocates.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) LookupAny(id uint64) (*AnyTab, bool) {
	tabLookups.Inc()

	if id&dynamicBit == 0 {
		// Static ids are not ours; their slot-address bits could alias
		// a real slot, so reject them before walking.
		tabLookupMisses.Inc()
		return nil, false
	}

	s := t.tryGetSlot(id)
	if s == nil {
		tabLookupMisses.Inc()
		return nil, false
	}

	a := tryNewAny(t, id, s)
	if a == nil {
		tabLookupMisses.Inc()
		return nil, false
	}
	return a, true
}

// Lookup resolves an id to a typed handle. It returns false both for
// dead ids and for live ids of a different type, so callers can ask
// about an unknown id's type safely.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Lookup[T Entity](t *Table, id uint64) (*Tab[T], bool) {
	a, ok := t.LookupAny(id)
	if !ok {
		return nil, false
	}
	h, ok := As[T](a)
	if !ok {
		a.Release()
		return nil, false
	}
	return h, true
}

// free returns a slot to the table once its last handle is released.
// Tombstoned slots are deliberately not re-inserted: reclaiming
// whole-page tombstoned subtrees is deferred work, so the slot (and
// eventually its page) leaks, bounded by the version space.
//
// Must only be called by the handle that observed the user count hit
// zero, with the id the slot was issued under.
func (t *Table) free(id uint64, s *slot) {
	if debugChecks {
		if idSlot := t.tryGetSlot(id); idSlot != s {
			panic("precondition failed: id does not correspond to the passed slot")
		}
	}

	if s.freeAndCheckTomb(t.maxVersion, t.zombieTombs) {
		// TODO: walk the subtree and retire pages that are all tombs.
		t.tombs.Add(1)
		tabTombstones.Inc()
		tabLog.Debugf("slot %#x tombstoned, address retired", id)
		return
	}

	for {
		lastFree := t.lastFree.Load()
		s.setNextFree(lastFree)
		if t.lastFree.CompareAndSwap(lastFree, id) {
			tabFrees.Inc()
			return
		}
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// TableInfo is a point-in-time snapshot of table statistics.
type TableInfo struct {
	// Minted is the number of slot addresses ever created.
	Minted uint64 `json:"minted"`
	// FreeListLen approximates the reusable-slot count. It is sampled
	// with a bounded walk and only meaningful for debugging.
	FreeListLen int `json:"free_list_len"`
	// Tombstones counts permanently retired slot addresses.
	Tombstones uint64 `json:"tombstones"`
	// MaxVersion and ZombieTombs echo the table's policy.
	MaxVersion  uint64 `json:"max_version"`
	ZombieTombs bool   `json:"zombie_tombs"`
}

// Info collects statistics about the table. The free-list walk races
// with concurrent frees and claims and is best effort.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Info() TableInfo {
	const walkLimit = 1 << 16

	n := 0
	cur := t.lastFree.Load()
	for cur != freeListEmpty && n < walkLimit {
		s := t.tryGetSlot(cur)
		if s == nil || s.ty() != TypeFree {
			// The chain changed underneath us; stop counting.
			break
		}
		cur = s.nextFree()
		n++
	}

	return TableInfo{
		Minted:      t.counter.Load(),
		FreeListLen: n,
		Tombstones:  t.tombs.Load(),
		MaxVersion:  t.maxVersion,
		ZombieTombs: t.zombieTombs,
	}
}
