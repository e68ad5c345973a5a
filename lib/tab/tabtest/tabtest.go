package tabtest

import (
	"sync"
	"testing"

	"github.com/halcyon-os/ktab/lib/tab"
)

// TableFactory is a function that creates a new table under the
// configuration being validated
type TableFactory func() *tab.Table

// task is the payload type used throughout the suite.
type task struct {
	N uint64
}

func (task) TabType() tab.Type { return tab.TypeThread }

// other is a second payload type for type-safety checks.
type other struct {
	Name string
}

func (other) TabType() tab.Type { return tab.TypeModule }

// RunTableTests runs a comprehensive test suite for a table configuration.
func RunTableTests(t *testing.T, name string, factory TableFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Add&Lookup", func(t *testing.T) {
			testAddLookup(t, factory())
		})

		t.Run("Refcount", func(t *testing.T) {
			testRefcount(t, factory())
		})

		t.Run("StaleID", func(t *testing.T) {
			testStaleID(t, factory())
		})

		t.Run("Recycle", func(t *testing.T) {
			testRecycle(t, factory())
		})

		t.Run("TypeSafety", func(t *testing.T) {
			testTypeSafety(t, factory())
		})

		t.Run("ConcurrentAdd", func(t *testing.T) {
			testConcurrentAdd(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAddLookup(t *testing.T, table *tab.Table) {
	h, err := tab.Add(table, task{N: 42})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	defer h.Release()

	if h.ID()&(1<<63) == 0 {
		t.Errorf("Expected id %#x to carry the dynamic marker bit", h.ID())
	}

	got, ok := tab.Lookup[task](table, h.ID())
	if !ok {
		t.Fatalf("Expected id %#x to resolve after Add", h.ID())
	}
	defer got.Release()

	got.With(func(p *task) {
		if p.N != 42 {
			t.Errorf("Expected payload 42, got %d", p.N)
		}
	})

	got.WithMut(func(p *task) {
		p.N = 43
	})

	// The mutation is visible through the original handle.
	h.With(func(p *task) {
		if p.N != 43 {
			t.Errorf("Expected payload 43 after WithMut, got %d", p.N)
		}
	})

	if _, ok := table.LookupAny(0); ok {
		t.Errorf("Expected the non-dynamic id 0 to never resolve")
	}
}

func testRefcount(t *testing.T, table *tab.Table) {
	h, err := tab.Add(table, task{N: 1})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	id := h.ID()

	// N clones plus the original call for N+1 releases.
	const numClones = 8
	clones := make([]*tab.Tab[task], numClones)
	for i := range clones {
		clones[i] = h.Clone()
	}

	h.Release()
	for i, c := range clones {
		got, ok := tab.Lookup[task](table, id)
		if !ok {
			t.Fatalf("Expected id to resolve with %d clones outstanding", numClones-i)
		}
		got.Release()
		c.Release()
	}

	if _, ok := tab.Lookup[task](table, id); ok {
		t.Errorf("Expected id %#x to be gone after the last release", id)
	}
}

func testStaleID(t *testing.T, table *tab.Table) {
	h, err := tab.Add(table, task{})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	id := h.ID()
	h.Release()

	if _, ok := tab.Lookup[task](table, id); ok {
		t.Errorf("Expected released id %#x to fail lookup", id)
	}
	if _, ok := table.LookupAny(id); ok {
		t.Errorf("Expected released id %#x to fail type-erased lookup", id)
	}
}

func testRecycle(t *testing.T, table *tab.Table) {
	h1, err := tab.Add(table, task{N: 1})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	id1 := h1.ID()
	h1.Release()

	// The freed slot is first in line for reuse; the new id must differ
	// from the old one in its version bits.
	h2, err := tab.Add(table, task{N: 2})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	defer h2.Release()
	id2 := h2.ID()

	if id1 == id2 {
		t.Errorf("Expected the recycled slot to mint a fresh id, got %#x twice", id1)
	}

	if _, ok := tab.Lookup[task](table, id1); ok {
		t.Errorf("Expected the pre-recycle id %#x to fail lookup", id1)
	}

	got, ok := tab.Lookup[task](table, id2)
	if !ok {
		t.Fatalf("Expected the recycled id %#x to resolve", id2)
	}
	got.With(func(p *task) {
		if p.N != 2 {
			t.Errorf("Expected the new occupant's payload, got %d", p.N)
		}
	})
	got.Release()
}

func testTypeSafety(t *testing.T, table *tab.Table) {
	h, err := tab.Add(table, task{N: 7})
	if err != nil {
		t.Fatalf("Unexpected error during Add: %v", err)
	}
	defer h.Release()

	a, ok := table.LookupAny(h.ID())
	if !ok {
		t.Fatalf("Expected id %#x to resolve via LookupAny", h.ID())
	}

	if a.Ty() != tab.TypeThread {
		t.Errorf("Expected type tag %v, got %v", tab.TypeThread, a.Ty())
	}

	// Wrong target type: conversion fails and the AnyTab stays usable.
	if _, ok := tab.As[other](a); ok {
		t.Errorf("Expected conversion to the wrong type to fail")
	}

	typed, ok := tab.As[task](a)
	if !ok {
		t.Fatalf("Expected conversion to the stored type to succeed")
	}
	typed.Release()

	// The typed lookup shortcut also rejects mismatched types.
	if _, ok := tab.Lookup[other](table, h.ID()); ok {
		t.Errorf("Expected typed lookup with the wrong type to fail")
	}
}

func testConcurrentAdd(t *testing.T, table *tab.Table) {
	const (
		numWorkers   = 8
		addsPerGorou = 500
	)

	var (
		mu  sync.Mutex
		ids = make(map[uint64]struct{}, numWorkers*addsPerGorou)
		wg  sync.WaitGroup
	)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			local := make([]uint64, 0, addsPerGorou)
			for i := 0; i < addsPerGorou; i++ {
				h, err := tab.Add(table, task{N: uint64(workerId)})
				if err != nil {
					t.Errorf("Unexpected error during Add: %v", err)
					return
				}
				local = append(local, h.ID())

				// Release half immediately so the free list churns under
				// the other workers.
				if i%2 == 0 {
					h.Release()
				} else {
					defer h.Release()
				}
			}

			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := ids[id]; dup {
					t.Errorf("Id %#x was issued twice", id)
				}
				ids[id] = struct{}{}
			}
		}(w)
	}

	wg.Wait()
}

func testRealisticUsage(t *testing.T, table *tab.Table) {
	const (
		numWorkers    = 8
		opsPerWorker  = 2_000
		handlesEach   = 16
		sharedHandles = 32
	)

	// A shared set of long-lived objects every worker reads and writes.
	shared := make([]*tab.Tab[task], sharedHandles)
	for i := range shared {
		h, err := tab.Add(table, task{N: uint64(i)})
		if err != nil {
			t.Fatalf("Unexpected error during Add: %v", err)
		}
		shared[i] = h
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			own := make([]*tab.Tab[task], 0, handlesEach)
			for i := 0; i < opsPerWorker; i++ {
				switch i % 5 {
				case 0: // add
					h, err := tab.Add(table, task{N: uint64(i)})
					if err != nil {
						t.Errorf("Unexpected error during Add: %v", err)
						return
					}
					own = append(own, h)
					if len(own) > handlesEach {
						own[0].Release()
						own = own[1:]
					}
				case 1: // lookup a shared object
					s := shared[i%sharedHandles]
					if got, ok := tab.Lookup[task](table, s.ID()); ok {
						got.Release()
					} else {
						t.Errorf("Shared id %#x failed lookup", s.ID())
						return
					}
				case 2: // read
					shared[i%sharedHandles].With(func(p *task) { _ = p.N })
				case 3: // write
					shared[i%sharedHandles].WithMut(func(p *task) { p.N++ })
				case 4: // clone and hand back
					c := shared[i%sharedHandles].Clone()
					c.Release()
				}
			}

			for _, h := range own {
				h.Release()
			}
		}(w)
	}

	wg.Wait()

	// All shared objects survived the churn.
	for _, h := range shared {
		got, ok := tab.Lookup[task](table, h.ID())
		if !ok {
			t.Errorf("Shared id %#x did not survive", h.ID())
		} else {
			got.Release()
		}
		h.Release()
	}
}
