package tabtest

import (
	"testing"

	"github.com/halcyon-os/ktab/lib/tab"
)

// RunTableBenchmarks runs all benchmarks for a table configuration
func RunTableBenchmarks(b *testing.B, name string, factory TableFactory) {

	b.Run(name+"/Add", func(b *testing.B) {
		benchmarkAdd(b, factory())
	})

	b.Run(name+"/AddRelease", func(b *testing.B) {
		benchmarkAddRelease(b, factory())
	})

	b.Run(name+"/Lookup", func(b *testing.B) {
		benchmarkLookup(b, factory())
	})

	b.Run(name+"/LookupMiss", func(b *testing.B) {
		benchmarkLookupMiss(b, factory())
	})

	b.Run(name+"/CloneRelease", func(b *testing.B) {
		benchmarkCloneRelease(b, factory())
	})

	b.Run(name+"/With", func(b *testing.B) {
		benchmarkWith(b, factory())
	})

	b.Run(name+"/WithMut", func(b *testing.B) {
		benchmarkWithMut(b, factory())
	})

	b.Run(name+"/MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// populate adds numHandles entries and returns them together with a
// wraparound accessor.
func populate(b *testing.B, table *tab.Table, numHandles int) (func(int) *tab.Tab[task], []*tab.Tab[task]) {
	handles := make([]*tab.Tab[task], numHandles)
	for i := range handles {
		h, err := tab.Add(table, task{N: uint64(i)})
		if err != nil {
			b.Fatalf("failed to populate table: %v", err)
		}
		handles[i] = h
	}

	b.Cleanup(func() {
		for _, h := range handles {
			h.Release()
		}
	})

	return func(i int) *tab.Tab[task] { return handles[i%numHandles] }, handles
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Add (handles kept live, counter-minted slots)
func benchmarkAdd(b *testing.B, table *tab.Table) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		local := make([]*tab.Tab[task], 0, 1024)
		for pb.Next() {
			h, err := tab.Add(table, task{})
			if err != nil {
				b.Errorf("error adding entry: %v", err)
				return
			}
			local = append(local, h)
		}
		for _, h := range local {
			h.Release()
		}
	})
}

// Benchmark for Add followed by Release (free-list recycling)
func benchmarkAddRelease(b *testing.B, table *tab.Table) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h, err := tab.Add(table, task{})
			if err != nil {
				b.Errorf("error adding entry: %v", err)
				return
			}
			h.Release()
		}
	})
}

// Benchmark for Lookup of live ids
func benchmarkLookup(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			h, ok := tab.Lookup[task](table, getHandle(counter).ID())
			if !ok {
				b.Errorf("handle not found")
				return
			}
			h.Release()
			counter++
		}
	})
}

// Benchmark for Lookup of stale ids
func benchmarkLookupMiss(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			id := getHandle(counter).ID() ^ 0x1fff_ffff
			if _, ok := table.LookupAny(id); ok {
				b.Errorf("stale id unexpectedly resolved")
				return
			}
			counter++
		}
	})
}

// Benchmark for Clone followed by Release
func benchmarkCloneRelease(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			getHandle(counter).Clone().Release()
			counter++
		}
	})
}

// Benchmark for scoped reads
func benchmarkWith(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			getHandle(counter).With(func(p *task) { _ = p.N })
			counter++
		}
	})
}

// Benchmark for scoped writes
func benchmarkWithMut(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			getHandle(counter).WithMut(func(p *task) { p.N++ })
			counter++
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, table *tab.Table) {
	getHandle, _ := populate(b, table, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			h := getHandle(counter)
			switch counter % 4 {
			case 0:
				fresh, err := tab.Add(table, task{})
				if err != nil {
					b.Errorf("error adding entry: %v", err)
					return
				}
				fresh.Release()
			case 1:
				if got, ok := tab.Lookup[task](table, h.ID()); ok {
					got.Release()
				}
			case 2:
				h.With(func(p *task) { _ = p.N })
			case 3:
				h.WithMut(func(p *task) { p.N++ })
			}
			counter++
		}
	})
}
