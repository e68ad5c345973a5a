package tab

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"github.com/halcyon-os/ktab/lib/coreid"
)

func TestClaimFreeVersioning(t *testing.T) {
	var s slot
	payload := new(uint64)

	ver := s.claimUnchecked(unsafe.Pointer(payload), TypeThread, DefaultMaxVersion, false)
	if ver != 1 {
		t.Fatalf("first claim minted version %d, want 1", ver)
	}
	if s.ty() != TypeThread {
		t.Errorf("claimed slot has type %v, want %v", s.ty(), TypeThread)
	}
	if s.payload() != unsafe.Pointer(payload) {
		t.Error("claimed slot does not expose the payload")
	}

	if tomb := s.freeAndCheckTomb(DefaultMaxVersion, false); tomb {
		t.Error("slot tombstoned far below the version cap")
	}
	if s.ty() != TypeFree {
		t.Errorf("freed slot has type %v, want %v", s.ty(), TypeFree)
	}
	if s.version() != 1 {
		t.Errorf("free preserved version %d, want 1", s.version())
	}
	if s.payload() != nil {
		t.Error("freed slot still holds a payload reference")
	}

	// The next claim continues the version sequence.
	if ver := s.claimUnchecked(unsafe.Pointer(payload), TypeRing, DefaultMaxVersion, false); ver != 2 {
		t.Errorf("second claim minted version %d, want 2", ver)
	}
}

func TestTombstoneAtVersionCap(t *testing.T) {
	const maxVersion = 3

	var s slot
	payload := new(uint64)

	for want := uint64(1); want <= maxVersion; want++ {
		if ver := s.claimUnchecked(unsafe.Pointer(payload), TypeThread, maxVersion, false); ver != want {
			t.Fatalf("claim minted version %d, want %d", ver, want)
		}

		tomb := s.freeAndCheckTomb(maxVersion, false)
		if want < maxVersion && tomb {
			t.Fatalf("slot tombstoned at version %d, cap is %d", want, maxVersion)
		}
		if want == maxVersion && !tomb {
			t.Fatalf("slot not tombstoned at the version cap")
		}
	}
}

func TestZombieTombsWrap(t *testing.T) {
	const maxVersion = 3

	var s slot
	payload := new(uint64)

	for i := 0; i < maxVersion; i++ {
		s.claimUnchecked(unsafe.Pointer(payload), TypeThread, maxVersion, true)
		if tomb := s.freeAndCheckTomb(maxVersion, true); tomb {
			t.Fatal("zombie slot reported a tombstone")
		}
	}

	// Saturated version wraps to zero instead of retiring the slot.
	if ver := s.claimUnchecked(unsafe.Pointer(payload), TypeThread, maxVersion, true); ver != 0 {
		t.Fatalf("wrapped claim minted version %d, want 0", ver)
	}
	if tomb := s.freeAndCheckTomb(maxVersion, true); tomb {
		t.Fatal("zombie slot reported a tombstone after wrapping")
	}
}

// --------------------------------------------------------------------------
// Lock tests
// --------------------------------------------------------------------------

// requireDistinctCores skips tests that need threads to read distinct
// core ids, which the platform default cannot provide everywhere.
func requireDistinctCores(t *testing.T) {
	t.Helper()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	our := coreid.Current()
	distinct := false
	onPinnedThread(func() {
		distinct = coreid.Current() != our
	})
	if !distinct {
		t.Skip("platform does not distinguish cores per thread")
	}
}

// onPinnedThread runs f on its own OS thread so it observes a stable,
// distinct core id for the duration.
func onPinnedThread(f func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		f()
	}()
	wg.Wait()
}

func TestLockReadersShareWritersExclude(t *testing.T) {
	requireDistinctCores(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var s slot

	// Readers share.
	r1, ok := s.tryRead()
	if !ok {
		t.Fatal("tryRead failed on an unlocked slot")
	}
	r2, ok := s.tryRead()
	if !ok {
		t.Fatal("second tryRead failed alongside a reader")
	}

	// No writer while readers hold, not even on this core.
	if _, ok := s.tryWrite(); ok {
		t.Fatal("tryWrite succeeded alongside readers")
	}
	onPinnedThread(func() {
		if _, ok := s.tryWrite(); ok {
			t.Error("tryWrite succeeded alongside readers from another thread")
		}
	})

	r1.release()
	r2.release()

	if got := s.lock.Load(); got != 0 {
		t.Fatalf("lock word is %#x after all releases, want 0", got)
	}
}

func TestLockWriterReentrantSameCore(t *testing.T) {
	requireDistinctCores(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var s slot

	w1, ok := s.tryWrite()
	if !ok {
		t.Fatal("tryWrite failed on an unlocked slot")
	}

	// Re-entry on the same core succeeds.
	w2, ok := s.tryWrite()
	if !ok {
		t.Fatal("reentrant tryWrite failed on the owning core")
	}

	// Another core can neither write nor read.
	onPinnedThread(func() {
		if _, ok := s.tryWrite(); ok {
			t.Error("tryWrite succeeded from a non-owning thread")
		}
		if _, ok := s.tryRead(); ok {
			t.Error("tryRead succeeded while a writer holds the slot")
		}
	})

	// The slot stays held until the outermost release.
	w2.release()
	onPinnedThread(func() {
		if _, ok := s.tryWrite(); ok {
			t.Error("tryWrite succeeded before the outermost release")
		}
	})

	w1.release()
	if got := s.lock.Load(); got != 0 {
		t.Fatalf("lock word is %#x after the final release, want 0", got)
	}

	// Now anyone may take it.
	onPinnedThread(func() {
		w, ok := s.tryWrite()
		if !ok {
			t.Error("tryWrite failed on a released slot")
			return
		}
		w.release()
	})
}

func TestLockReadUnderWriteSameCorePanics(t *testing.T) {
	if !debugChecks {
		t.Skip("debug checks disabled")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var s slot

	w, ok := s.tryWrite()
	if !ok {
		t.Fatal("tryWrite failed on an unlocked slot")
	}
	defer w.release()

	defer func() {
		if recover() == nil {
			t.Error("tryRead under the own core's write lock did not panic")
		}
	}()
	s.tryRead()
}

type lockedTask struct {
	N uint64
}

func (lockedTask) TabType() Type { return TypeThread }

func TestReadInsideOwnWriteScopePanics(t *testing.T) {
	if !debugChecks {
		t.Skip("debug checks disabled")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	table := New(DefaultOptions())

	h, err := Add(table, lockedTask{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Release()

	h.WithMut(func(*lockedTask) {
		defer func() {
			if recover() == nil {
				t.Error("read inside the own core's write scope did not panic")
			}
		}()
		h.With(func(*lockedTask) {})
	})

	// The write guard was released on the way out; the slot is usable.
	h.WithMut(func(p *lockedTask) { p.N = 1 })
}

func TestLockContendedHandoff(t *testing.T) {
	requireDistinctCores(t)

	var (
		s       slot
		counter int
		wg      sync.WaitGroup
	)

	const (
		numWorkers    = 8
		incsPerWorker = 1000
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for j := 0; j < incsPerWorker; j++ {
				g := s.write()
				counter++
				g.release()
			}
		}()
	}
	wg.Wait()

	if counter != numWorkers*incsPerWorker {
		t.Fatalf("counter is %d, want %d: writer exclusion failed", counter, numWorkers*incsPerWorker)
	}
	if got := s.lock.Load(); got != 0 {
		t.Fatalf("lock word is %#x after the run, want 0", got)
	}
}
