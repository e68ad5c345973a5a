// Package registry maps well-known names to live handles. The kernel
// uses it for its static interface surface: an interface is registered
// once under its name and resolved by id-less callers later.
//
// The registry owns one cloned reference per entry, so a registered
// object can never be freed underneath a resolver; resolution hands
// out fresh clones that the caller must release.
package registry

import (
	"errors"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/halcyon-os/ktab/lib/tab"
)

var regLog = logger.GetLogger("registry")

// ErrAlreadyRegistered is returned when a name is taken.
var ErrAlreadyRegistered = errors.New("registry: name already registered")

// Registry is a concurrent name -> handle map.
type Registry struct {
	entries *xsync.MapOf[string, *tab.AnyTab]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: xsync.NewMapOf[string, *tab.AnyTab](),
	}
}

// Register binds name to the object h references. The registry keeps
// its own clone; the caller's handle stays with the caller.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Register(name string, h *tab.AnyTab) error {
	var err error
	r.entries.Compute(name, func(old *tab.AnyTab, loaded bool) (*tab.AnyTab, bool) {
		if loaded {
			err = ErrAlreadyRegistered
			return old, false
		}
		return h.Clone(), false
	})
	if err == nil {
		regLog.Debugf("registered %q -> %#x", name, h.ID())
	}
	return err
}

// Resolve returns a fresh handle for name, or false if the name is not
// bound. The clone happens inside the map's per-entry critical
// section, so it cannot race an Unregister releasing the entry's
// reference.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Resolve(name string) (*tab.AnyTab, bool) {
	var clone *tab.AnyTab
	r.entries.Compute(name, func(held *tab.AnyTab, loaded bool) (*tab.AnyTab, bool) {
		if !loaded {
			return nil, true
		}
		clone = held.Clone()
		return held, false
	})
	if clone == nil {
		return nil, false
	}
	return clone, true
}

// Unregister removes name, releasing the registry's reference.
// Returns false if the name was not bound.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Unregister(name string) bool {
	var removed bool
	r.entries.Compute(name, func(held *tab.AnyTab, loaded bool) (*tab.AnyTab, bool) {
		if !loaded {
			return nil, true
		}
		held.Release()
		removed = true
		return nil, true
	})
	if removed {
		regLog.Debugf("unregistered %q", name)
	}
	return removed
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Names returns a snapshot of the bound names.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.entries.Size())
	r.entries.Range(func(name string, _ *tab.AnyTab) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Close unbinds everything, releasing all held references.
func (r *Registry) Close() {
	r.entries.Range(func(name string, _ *tab.AnyTab) bool {
		r.Unregister(name)
		return true
	})
}
