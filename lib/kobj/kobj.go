// Package kobj defines the kernel entities storable in the global
// handle table. Entities never hold pointers to each other; every
// cross-reference is a tab id resolved through the table, so object
// lifetimes are governed entirely by handle reference counts.
package kobj

import "github.com/halcyon-os/ktab/lib/tab"

// ThreadState tracks where a thread sits in its lifecycle.
type ThreadState uint8

const (
	// ThreadStopped: not eligible to run.
	ThreadStopped ThreadState = iota
	// ThreadRunnable: waiting for a core.
	ThreadRunnable
	// ThreadRunning: currently on a core.
	ThreadRunning
	// ThreadTerminated: finished; awaiting reap.
	ThreadTerminated
)

// Ring is an isolation domain. Rings form a tree; the root ring has
// Parent == 0.
type Ring struct {
	// Parent is the tab id of the parent ring, or 0 for the root.
	Parent uint64
	// Instances lists the tab ids of module instances mounted on this
	// ring.
	Instances []uint64
}

func (Ring) TabType() tab.Type { return tab.TypeRing }

// Module is an executable image registered with the kernel.
type Module struct {
	// Path identifies where the image was loaded from.
	Path string
	// Instances lists the tab ids of live instantiations.
	Instances []uint64
}

func (Module) TabType() tab.Type { return tab.TypeModule }

// Instance is one instantiation of a module on a ring.
type Instance struct {
	// Module is the tab id of the instantiated module.
	Module uint64
	// Ring is the tab id of the ring the instance is mounted on.
	Ring uint64
	// Threads lists the tab ids of the instance's threads.
	Threads []uint64
}

func (Instance) TabType() tab.Type { return tab.TypeInstance }

// Thread is a schedulable execution context owned by an instance.
type Thread struct {
	// Instance is the tab id of the owning instance.
	Instance uint64
	// State is the thread's lifecycle state.
	State ThreadState
	// Entry is the entry point address.
	Entry uint64
}

func (Thread) TabType() tab.Type { return tab.TypeThread }

// RingInterface exposes a typed interface on a ring.
type RingInterface struct {
	// Ring is the tab id of the ring the interface is exported on.
	Ring uint64
	// TypeID identifies the interface type.
	TypeID uint64
}

func (RingInterface) TabType() tab.Type { return tab.TypeRingInterface }

// --------------------------------------------------------------------------
// Graph traversal helpers
// --------------------------------------------------------------------------

// InstanceOf resolves a thread's owning instance.
func InstanceOf(t *tab.Table, thread *tab.Tab[Thread]) (*tab.Tab[Instance], bool) {
	var instanceID uint64
	thread.With(func(th *Thread) { instanceID = th.Instance })
	return tab.Lookup[Instance](t, instanceID)
}

// RingOf resolves an instance's ring.
func RingOf(t *tab.Table, instance *tab.Tab[Instance]) (*tab.Tab[Ring], bool) {
	var ringID uint64
	instance.With(func(in *Instance) { ringID = in.Ring })
	return tab.Lookup[Ring](t, ringID)
}

// Spawn creates a thread under an instance, linking both directions:
// the thread records its owner, the instance records the new thread.
func Spawn(t *tab.Table, instance *tab.Tab[Instance], entry uint64) (*tab.Tab[Thread], error) {
	thread, err := tab.Add(t, Thread{
		Instance: instance.ID(),
		State:    ThreadRunnable,
		Entry:    entry,
	})
	if err != nil {
		return nil, err
	}

	instance.WithMut(func(in *Instance) {
		in.Threads = append(in.Threads, thread.ID())
	})
	return thread, nil
}
