package tab

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/halcyon-os/ktab/lib/pfa"
)

// newBudgetTable builds a table on a private budget so tests can count
// the pages it takes.
func newBudgetTable() (*Table, *pfa.Budget) {
	budget := pfa.NewBudget(nil)
	return New(&Options{Budget: budget}), budget
}

func TestPageFit(t *testing.T) {
	// The compile-time assertions in levels.go pin these; the runtime
	// check documents the numbers where a failure is readable.
	for name, size := range map[string]uintptr{
		"topTable":  unsafe.Sizeof(topTable{}),
		"midTable":  unsafe.Sizeof(midTable{}),
		"leafTable": unsafe.Sizeof(leafTable{}),
		"slotList":  unsafe.Sizeof(slotList{}),
	} {
		if size != pfa.PageSize {
			t.Errorf("%s is %d bytes, want exactly one %d-byte page", name, size, pfa.PageSize)
		}
	}
	if size := unsafe.Sizeof(slot{}); size != pfa.PageSize/slotsPerLeaf {
		t.Errorf("slot is %d bytes, want %d", size, pfa.PageSize/slotsPerLeaf)
	}
}

func TestIndexExtraction(t *testing.T) {
	// An id minted for counter value c places c's bits at 62-29.
	cases := []struct {
		counter                   uint64
		top, mid, leaf, slotIndex uint64
	}{
		{0, 0, 0, 0, 0},
		{1, 0, 0, 0, 1},
		{127, 0, 0, 0, 127},
		{128, 0, 0, 1, 0},
		{128*512 - 1, 0, 0, 511, 127},
		{128 * 512, 0, 1, 0, 0},
		{128 * 512 * 512, 1, 0, 0, 0},
		{1<<slotAddrBits - 1, 511, 511, 511, 127},
	}

	for _, c := range cases {
		id := c.counter<<versionBits | dynamicBit

		if got := idxTop(id); got != c.top {
			t.Errorf("idxTop(counter %d) = %d, want %d", c.counter, got, c.top)
		}
		if got := idxMid(id); got != c.mid {
			t.Errorf("idxMid(counter %d) = %d, want %d", c.counter, got, c.mid)
		}
		if got := idxLeaf(id); got != c.leaf {
			t.Errorf("idxLeaf(counter %d) = %d, want %d", c.counter, got, c.leaf)
		}
		if got := idxSlot(id); got != c.slotIndex {
			t.Errorf("idxSlot(counter %d) = %d, want %d", c.counter, got, c.slotIndex)
		}
	}

	// The version bits never bleed into the indices.
	id := uint64(5)<<versionBits | dynamicBit | versionMask
	if idxTop(id) != 0 || idxMid(id) != 0 || idxLeaf(id) != 0 || idxSlot(id) != 5 {
		t.Errorf("version bits influence the trie walk for id %#x", id)
	}
}

func TestTryGetSlotEmptyTable(t *testing.T) {
	table, budget := newBudgetTable()

	if s := table.tryGetSlot(dynamicBit); s != nil {
		t.Error("tryGetSlot on an empty table returned a slot")
	}
	if budget.Live() != 0 {
		t.Errorf("tryGetSlot allocated %d pages", budget.Live())
	}
}

func TestGetOrAllocSlotPageSharing(t *testing.T) {
	table, budget := newBudgetTable()

	id := func(counter uint64) uint64 { return counter<<versionBits | dynamicBit }

	// The first slot materializes the whole chain: top, mid, leaf, slots.
	s0, err := table.getOrAllocSlot(id(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := budget.Live(); got != 4 {
		t.Errorf("first slot took %d pages, want 4", got)
	}

	// A second slot in the same leaf page is free.
	s1, err := table.getOrAllocSlot(id(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := budget.Live(); got != 4 {
		t.Errorf("second slot in the same leaf took %d pages, want 4", got)
	}
	if s0 == s1 {
		t.Error("distinct slot addresses resolved to the same slot")
	}

	// Crossing into the next leaf page costs exactly one more page.
	if _, err := table.getOrAllocSlot(id(slotsPerLeaf)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := budget.Live(); got != 5 {
		t.Errorf("second leaf page took %d extra pages, want 1 (total 5, got %d)", got-4, got)
	}

	// The allocation is idempotent and visible to the non-allocating walk.
	if again, err := table.getOrAllocSlot(id(0)); err != nil || again != s0 {
		t.Errorf("getOrAllocSlot is not idempotent: %v, %v", again, err)
	}
	if got := table.tryGetSlot(id(0)); got != s0 {
		t.Error("tryGetSlot does not see the allocated slot")
	}
}

func TestGetOrAllocSlotOutOfMemory(t *testing.T) {
	// Three pages is one short of the chain a first slot needs.
	table := New(&Options{Budget: pfa.NewBudget(&pfa.BudgetOptions{MaxPages: 3})})

	if _, err := table.getOrAllocSlot(dynamicBit); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	// The walk stays allocation-free and keeps failing cleanly.
	if s := table.tryGetSlot(dynamicBit); s != nil {
		t.Error("partially allocated chain resolved to a slot")
	}
	if _, err := table.getOrAllocSlot(dynamicBit); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory on retry, got %v", err)
	}
}

func TestEncodedPtrConcurrentAlloc(t *testing.T) {
	const numGoroutines = 16

	budget := pfa.NewBudget(nil)
	alloc := pfa.NewHeapAllocator[slotList](budget)

	var (
		e       encodedPtr[slotList]
		start   sync.WaitGroup
		done    sync.WaitGroup
		results [numGoroutines]*slotList
	)

	start.Add(1)
	done.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			p, err := e.getOrAlloc(alloc)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	start.Done()
	done.Wait()

	// Every racer adopted the same page, and every losing page was
	// handed back.
	for i := 1; i < numGoroutines; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d got a different page", i)
		}
	}
	if got := budget.Live(); got != 1 {
		t.Errorf("allocation race leaked pages: %d live, want 1", got)
	}
}
