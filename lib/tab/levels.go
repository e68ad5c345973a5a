package tab

import (
	"unsafe"

	"github.com/halcyon-os/ktab/lib/pfa"
)

// Constants for the id layout and trie geometry
const (
	// versionBits is the width of the per-slot version field; the low
	// bits of every id carry the version the slot had when issued.
	versionBits = 29
	versionMask = uint64(1)<<versionBits - 1

	// slotAddrBits is the width of the slot address (three 9-bit level
	// indices plus a 7-bit leaf index).
	slotAddrBits = 34

	// dynamicBit marks table-issued ids, keeping them disjoint from
	// the kernel's static ids.
	dynamicBit = uint64(1) << 63

	// fanout / slotsPerLeaf size each trie level to exactly one page.
	fanout       = 512
	slotsPerLeaf = 128

	// freeListEmpty is the free-list sentinel.
	freeListEmpty = ^uint64(0)
)

// subTable is one intermediate trie level: 512 encoded pointers to the
// next level down.
type subTable[T any] struct {
	entries [fanout]encodedPtr[T]
}

// slotList is one leaf page of 128 slots.
type slotList struct {
	slots [slotsPerLeaf]slot
}

// The three intermediate levels, leaf-most first.
type leafTable = subTable[slotList]
type midTable = subTable[leafTable]
type topTable = subTable[midTable]

// Page-fit is a hard invariant: every trie level is a typed heap
// object of exactly one page, so the allocator's budget is counted in
// pages and the collector still traces the pointer words inside each
// level. These fail to compile if any layout drifts.
var _ *[pfa.PageSize]byte = (*[unsafe.Sizeof(topTable{})]byte)(nil)
var _ *[pfa.PageSize]byte = (*[unsafe.Sizeof(midTable{})]byte)(nil)
var _ *[pfa.PageSize]byte = (*[unsafe.Sizeof(leafTable{})]byte)(nil)
var _ *[pfa.PageSize]byte = (*[unsafe.Sizeof(slotList{})]byte)(nil)
var _ *[pfa.PageSize / slotsPerLeaf]byte = (*[unsafe.Sizeof(slot{})]byte)(nil)

// Per-level index helpers; the walk consumes bits 62-29 of an id in
// 9/9/9/7-bit slices.
func idxTop(id uint64) uint64  { return id >> 54 & (fanout - 1) }
func idxMid(id uint64) uint64  { return id >> 45 & (fanout - 1) }
func idxLeaf(id uint64) uint64 { return id >> 36 & (fanout - 1) }
func idxSlot(id uint64) uint64 { return id >> 29 & (slotsPerLeaf - 1) }

// tryGetSlot resolves a slot address without ever allocating,
// returning nil the moment any level is unpopulated (meaning the
// address was never issued).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) tryGetSlot(id uint64) *slot {
	top, st := t.root.load()
	if st != encLive {
		return nil
	}
	mid, st := top.entries[idxTop(id)].load()
	if st != encLive {
		return nil
	}
	leaf, st := mid.entries[idxMid(id)].load()
	if st != encLive {
		return nil
	}
	sl, st := leaf.entries[idxLeaf(id)].load()
	if st != encLive {
		return nil
	}
	return &sl.slots[idxSlot(id)]
}

// getOrAllocSlot resolves a slot address, materializing any missing
// level on the way down. Only the fresh-mint path in Add takes this
// route; lookups and free-list reuse never allocate.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) getOrAllocSlot(id uint64) (*slot, error) {
	top, err := t.root.getOrAlloc(t.allocs.top)
	if err != nil {
		return nil, err
	}
	mid, err := top.entries[idxTop(id)].getOrAlloc(t.allocs.mid)
	if err != nil {
		return nil, err
	}
	leaf, err := mid.entries[idxMid(id)].getOrAlloc(t.allocs.leaf)
	if err != nil {
		return nil, err
	}
	sl, err := leaf.entries[idxLeaf(id)].getOrAlloc(t.allocs.slots)
	if err != nil {
		return nil, err
	}
	return &sl.slots[idxSlot(id)], nil
}
