package tab

// Handles own a reference, not memory: cloning bumps the slot's user
// count, releasing drops it, and the release that takes the count to
// zero returns the slot to the table. Handles may be shared freely
// across cores; the payload itself is only ever reachable through the
// scoped With/WithMut lock.

// AnyTab is a type-erased handle: it exposes the id and the type tag
// and can be converted into a typed handle with As.
type AnyTab struct {
	id       uint64
	slot     *slot
	table    *Table
	released bool
}

// tryNewAny acquires a reference on a live slot, or returns nil.
//
// The user count is bumped with a compare-and-swap that only succeeds
// while the observed count is nonzero: a plain increment could race a
// concurrent release that already saw zero and is about to free the
// slot, handing us a reference into a recycled cell.
func tryNewAny(t *Table, id uint64, s *slot) *AnyTab {
	for {
		users := s.users.Load()
		if users == 0 {
			// The slot is dead or mid-free; the race was avoided.
			return nil
		}
		if s.users.CompareAndSwap(users, users+1) {
			break
		}
	}

	a := &AnyTab{id: id, slot: s, table: t}

	// We hold a reference now, so these reads are stable. The type
	// check guards the narrow window between our count bump and a
	// concurrent free; the version check rejects stale ids whose slot
	// has been recycled for a new occupant.
	if a.Ty() == TypeFree || s.version() != id&versionMask {
		a.Release()
		return nil
	}

	return a
}

// ID returns the handle's id.
func (a *AnyTab) ID() uint64 {
	return a.id
}

// Ty returns the type tag of the referenced object.
func (a *AnyTab) Ty() Type {
	return a.slot.ty()
}

// Clone returns an additional handle to the same object.
//
// Thread-safety: This method is thread-safe; distinct clones may be
// used concurrently (a single handle value may not).
func (a *AnyTab) Clone() *AnyTab {
	a.ensureLive()
	a.slot.users.Add(1)
	return &AnyTab{id: a.id, slot: a.slot, table: a.table}
}

// Release drops this handle's reference. The last release frees the
// slot; the handle must not be used afterwards.
func (a *AnyTab) Release() {
	if a.released || a.slot == nil {
		if debugChecks && a.slot != nil {
			panic("ktab: handle released twice")
		}
		return
	}
	a.released = true
	releaseRef(a.table, a.id, a.slot)
}

// As converts a type-erased handle into a typed one. On success the
// reference is transferred: the AnyTab is consumed and must not be
// released again. On type mismatch the AnyTab stays valid and false is
// returned.
func As[T Entity](a *AnyTab) (*Tab[T], bool) {
	a.ensureLive()
	if a.Ty() != typeOf[T]() {
		return nil, false
	}
	h := &Tab[T]{id: a.id, slot: a.slot, table: a.table}
	a.slot = nil // reference moved into h
	return h, true
}

func (a *AnyTab) ensureLive() {
	if debugChecks && (a.released || a.slot == nil) {
		panic("ktab: use of released handle")
	}
}

// Tab is a typed handle to an object stored in the table. Obtain one
// from Add, Lookup, or As; duplicate with Clone; drop with Release.
//
// Tabs make traversal of linked objects safe and cheap: a thread can
// reach its instance, the instance its ring, and so on, each hop going
// id -> handle -> scoped access, with the per-slot lock holding only
// for the duration of the closure.
type Tab[T Entity] struct {
	id       uint64
	slot     *slot
	table    *Table
	released bool
}

// newFreshTab wraps a just-claimed slot, forcing the user count to 1.
// No compare-and-swap is needed: the claimer has exclusive ownership.
func newFreshTab[T Entity](t *Table, id uint64, s *slot) *Tab[T] {
	if debugChecks {
		if s.ty() != typeOf[T]() {
			panic("precondition failed: claimed slot has the wrong type tag")
		}
		if s.lock.Load() != 0 {
			panic("precondition failed: claimed slot is locked")
		}
		if !s.users.CompareAndSwap(0, 1) {
			panic("precondition failed: claimed slot has users")
		}
	} else {
		s.users.Store(1)
	}
	return &Tab[T]{id: id, slot: s, table: t}
}

// ID returns the handle's id.
func (h *Tab[T]) ID() uint64 {
	return h.id
}

// With runs f against the payload under the shared (read) lock. The
// lock is released on every exit path, including a panic inside f.
func (h *Tab[T]) With(f func(*T)) {
	h.ensureLive()
	g := h.slot.read()
	defer g.release()
	f((*T)(h.slot.payload()))
}

// WithMut runs f against the payload under the exclusive (write)
// lock. The lock is core-affine and reentrant: nesting WithMut on the
// same core is fine, while a writer on another core spins until
// release. The lock is released on every exit path, including a panic
// inside f.
func (h *Tab[T]) WithMut(f func(*T)) {
	h.ensureLive()
	g := h.slot.write()
	defer g.release()
	f((*T)(h.slot.payload()))
}

// Clone returns an additional handle to the same object.
//
// Thread-safety: This method is thread-safe; distinct clones may be
// used concurrently (a single handle value may not).
func (h *Tab[T]) Clone() *Tab[T] {
	h.ensureLive()
	h.slot.users.Add(1)
	return &Tab[T]{id: h.id, slot: h.slot, table: h.table}
}

// Release drops this handle's reference. The last release frees the
// slot; the handle must not be used afterwards.
func (h *Tab[T]) Release() {
	if h.released {
		if debugChecks {
			panic("ktab: handle released twice")
		}
		return
	}
	h.released = true
	releaseRef(h.table, h.id, h.slot)
}

func (h *Tab[T]) ensureLive() {
	if debugChecks && h.released {
		panic("ktab: use of released handle")
	}
}

// releaseRef drops one reference and frees the slot on the 1 -> 0
// transition. The slot must not be locked at that point: holding a
// guard across the last release is a caller bug.
func releaseRef(t *Table, id uint64, s *slot) {
	if s.users.Add(^uint64(0)) == 0 {
		if debugChecks && s.lock.Load() != 0 {
			panic("precondition failed: slot is locked during free")
		}
		t.free(id, s)
		// The slot is no longer ours; any further access through this
		// handle is undefined.
	}
}
