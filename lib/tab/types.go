package tab

// Type tags the kind of object held in a slot. The tag lives in the
// high byte of the slot's version word; TypeFree doubles as the "slot
// is unoccupied" marker.
type Type uint8

const (
	// TypeFree marks an unoccupied slot.
	TypeFree Type = iota
	// TypeRing tags a kobj.Ring.
	TypeRing
	// TypeInstance tags a kobj.Instance.
	TypeInstance
	// TypeThread tags a kobj.Thread.
	TypeThread
	// TypeRingInterface tags a kobj.RingInterface.
	TypeRingInterface
	// TypeModule tags a kobj.Module.
	TypeModule
)

func (ty Type) String() string {
	switch ty {
	case TypeFree:
		return "Free"
	case TypeRing:
		return "Ring"
	case TypeInstance:
		return "Instance"
	case TypeThread:
		return "Thread"
	case TypeRingInterface:
		return "RingInterface"
	case TypeModule:
		return "Module"
	default:
		return "Unknown"
	}
}

// Entity is implemented by every type storable in the table. The
// returned tag must be constant for the type and unique to it; the
// table trusts this 1:1 mapping when it recovers typed handles from
// type-erased ones.
type Entity interface {
	TabType() Type
}

// typeOf returns the tag T declares, without needing an instance.
func typeOf[T Entity]() Type {
	var zero T
	return zero.TabType()
}
