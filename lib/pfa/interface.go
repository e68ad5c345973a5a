package pfa

// PageSize is the allocation unit. Every consumer of this package sizes
// its page-resident structures to exactly this many bytes.
const PageSize = 4096

// Page is one frame of raw memory, for consumers that want untyped
// bytes. Structured consumers instantiate the allocator with their own
// page-sized type instead, so the garbage collector knows where the
// pointer words inside each page live.
type Page [PageSize]byte

// Allocator hands out and reclaims page-sized objects of type T. T
// must be exactly PageSize bytes and its zero value must be valid.
type Allocator[T any] interface {
	// Allocate returns a zeroed object, or false if the page budget is
	// exhausted. It never panics.
	//
	// Thread-safety: implementations must be safe for concurrent use.
	Allocate() (*T, bool)

	// Free returns an object to the allocator. The caller must not
	// touch it afterwards.
	//
	// Thread-safety: implementations must be safe for concurrent use.
	Free(page *T)
}
