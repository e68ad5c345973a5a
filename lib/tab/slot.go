package tab

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/halcyon-os/ktab/lib/coreid"
)

// Bit layout of the slot words
const (
	// verTy word: low 29 bits version, high byte type tag.
	tyShift = 56

	// lock word: high bit set = held by writer(s) on one core; the
	// owning core id then sits in bits 62-31. High bit clear = free or
	// held by readers. The low 31 bits count holders either way.
	writerBit     = uint64(1) << 63
	lockCoreShift = 31
	lockCountMask = uint64(1)<<31 - 1
)

// slot is the versioned, typed, ref-counted, lockable storage cell for
// one object. A slot is 32 bytes so that exactly 128 fit in a page.
type slot struct {
	// data holds the boxed payload while the slot is claimed, nil
	// while it is free. Slot pages are typed heap objects, so the
	// collector traces this word and the payload cannot be reclaimed
	// while the slot holds it.
	data unsafe.Pointer
	// verTy packs the version and the type tag. The type field decides
	// what the other words currently mean.
	verTy atomic.Uint64
	// users counts the open handles.
	users atomic.Uint64
	// lock is the reentrant core-affine reader/writer lock word. While
	// the slot sits on the free list it is by invariant unlocked, and
	// the word is borrowed to hold the next free slot id; the claim
	// path clears it before the slot goes live again.
	lock atomic.Uint64
}

// ty returns the slot's current type tag.
func (s *slot) ty() Type {
	return Type(s.verTy.Load() >> tyShift)
}

// version returns the slot's current version.
func (s *slot) version() uint64 {
	return s.verTy.Load() & versionMask
}

// payload returns the boxed object. The slot must be claimed and the
// caller must hold a guard.
func (s *slot) payload() unsafe.Pointer {
	return atomic.LoadPointer(&s.data)
}

// nextFree reads the free-list link. The slot must be on the free
// list; callers racing a pop may read a stale link but must discard it
// unless their head compare-and-swap succeeds.
func (s *slot) nextFree() uint64 {
	return s.lock.Load()
}

// setNextFree writes the free-list link. The slot must be free and
// unlocked.
func (s *slot) setNextFree(next uint64) {
	s.lock.Store(next)
}

// claimUnchecked installs a payload into a free slot: it bumps the
// version, stores the new version+type word, and swaps the payload
// pointer in. Returns the new version for the caller to embed into the
// issued id.
//
// The caller must have exclusive ownership of the slot (a fresh mint
// or a won free-list pop). In debug builds a concurrent modification
// panics as a precondition failure.
func (s *slot) claimUnchecked(data unsafe.Pointer, ty Type, maxVersion uint64, zombieTombs bool) uint64 {
	old := s.verTy.Load()
	ver := (old + 1) & maxVersion

	if debugChecks && !zombieTombs && ver == 0 {
		// Version 0 is reserved for "never claimed"; without the wrap
		// policy a saturated slot must have been tombstoned, not reused.
		panic("ktab: tab version overflow without zombie tombs")
	}

	newVerTy := ver | uint64(ty)<<tyShift
	if debugChecks {
		if !s.verTy.CompareAndSwap(old, newVerTy) {
			panic("precondition failed: slot was not free during claim")
		}
	} else {
		s.verTy.Store(newVerTy)
	}

	// The lock word held the free-list link until the pop; it was
	// cleared by the claimer. Publish the payload last.
	atomic.SwapPointer(&s.data, data)

	return ver
}

// freeAndCheckTomb marks the slot free, preserving its (capped)
// version and dropping the payload reference. Reports whether the
// version had reached the cap, in which case the slot is now a
// permanent tomb and must not be re-inserted into the free list.
//
// The caller must be the one that observed the user count hit zero.
func (s *slot) freeAndCheckTomb(maxVersion uint64, zombieTombs bool) bool {
	old := s.verTy.Load()
	ver := old & maxVersion

	newVerTy := ver | uint64(TypeFree)<<tyShift
	if debugChecks {
		if !s.verTy.CompareAndSwap(old, newVerTy) {
			panic("precondition failed: slot was modified during free")
		}
	} else {
		s.verTy.Store(newVerTy)
	}

	// Release the payload to the GC before the slot is republished.
	atomic.StorePointer(&s.data, nil)

	return ver == maxVersion && !zombieTombs
}

// --------------------------------------------------------------------------
// Reentrant core-affine reader/writer lock
// --------------------------------------------------------------------------

// slotReadGuard scopes a shared hold on a slot.
type slotReadGuard struct {
	slot *slot
}

// release drops the shared hold.
func (g *slotReadGuard) release() {
	if debugChecks {
		loaded := g.slot.lock.Load()
		isReader := loaded&writerBit == 0
		count := loaded & lockCountMask
		if !isReader || count == 0 {
			panic("precondition failed: reader guard released on a slot not held for reading")
		}
	}

	after := g.slot.lock.Add(^uint64(0))

	if debugChecks {
		isReader := after&writerBit == 0
		count := after & lockCountMask
		if !isReader || count == lockCountMask {
			panic("precondition failed: reader count underflow (race condition detected)")
		}
	}
}

// slotWriteGuard scopes an exclusive hold on a slot.
type slotWriteGuard struct {
	slot *slot
}

// release drops one level of the (possibly recursive) writer hold.
func (g *slotWriteGuard) release() {
	if debugChecks {
		loaded := g.slot.lock.Load()
		isReader := loaded&writerBit == 0
		count := loaded & lockCountMask
		owner := uint32(loaded >> lockCoreShift)
		if our := coreid.Current(); isReader || count == 0 || owner != our {
			panic("precondition failed: writer guard released by a core that does not hold it")
		}
	}

	for {
		loaded := g.slot.lock.Load()
		count := loaded & lockCountMask

		// The last writer clears the word entirely, owner id included.
		var newVal uint64
		if count == 1 {
			newVal = 0
		} else {
			newVal = loaded - 1
		}

		if g.slot.lock.CompareAndSwap(loaded, newVal) {
			return
		}
	}
}

// tryRead attempts to take a shared hold. It fails while a writer
// holds the slot or the reader count is saturated. In debug builds,
// attempting to read while the calling core itself holds the write
// lock panics: the acquisition could never succeed and would otherwise
// spin forever.
func (s *slot) tryRead() (*slotReadGuard, bool) {
	loaded := s.lock.Load()

	isReader := loaded&writerBit == 0
	count := loaded & lockCountMask

	if !isReader {
		if debugChecks && uint32(loaded>>lockCoreShift) == coreid.Current() {
			panic("ktab: read attempted while holding the write lock on the same core")
		}
		return nil, false
	}
	if count == lockCountMask {
		return nil, false
	}

	if !s.lock.CompareAndSwap(loaded, loaded+1) {
		return nil, false
	}
	return &slotReadGuard{slot: s}, true
}

// read spin-polls tryRead until it succeeds. There is no timeout and
// no cancellation; writers must not hold a slot indefinitely.
func (s *slot) read() *slotReadGuard {
	for {
		if g, ok := s.tryRead(); ok {
			return g
		}
		runtime.Gosched()
	}
}

// tryWrite attempts to take (or re-enter) the exclusive hold. It fails
// while readers are present, while a writer on a different core holds
// the slot, or when the recursion counter is saturated.
func (s *slot) tryWrite() (*slotWriteGuard, bool) {
	loaded := s.lock.Load()

	isReader := loaded&writerBit == 0
	owner := uint32(loaded >> lockCoreShift)
	count := loaded & lockCountMask
	our := coreid.Current()

	heldForReading := loaded > 0 && isReader
	heldByOtherCore := loaded > 0 && owner != our
	atMaxLocks := count == lockCountMask

	if heldForReading || heldByOtherCore || atMaxLocks {
		return nil, false
	}

	newVal := writerBit | uint64(our)<<lockCoreShift | (count + 1)
	if !s.lock.CompareAndSwap(loaded, newVal) {
		return nil, false
	}
	return &slotWriteGuard{slot: s}, true
}

// write spin-polls tryWrite until it succeeds. Same caveats as read.
func (s *slot) write() *slotWriteGuard {
	for {
		if g, ok := s.tryWrite(); ok {
			return g
		}
		runtime.Gosched()
	}
}
