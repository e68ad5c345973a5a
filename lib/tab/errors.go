package tab

import "errors"

var (
	// ErrOutOfMemory is returned when the backing page allocator could
	// not produce a page. It is the only failure Add reports in normal
	// operation.
	ErrOutOfMemory = errors.New("ktab: page allocation failed")

	// ErrTableFull is returned when all 2^34 slot addresses have been
	// minted. Reaching it requires minting addresses continuously for
	// years; it exists so the failure is an error and not corruption.
	ErrTableFull = errors.New("ktab: slot address space exhausted")
)

// errLevelTombstoned is reported when a trie walk hits a retired
// level. Level retirement is deferred work, so today this is
// unreachable; it is kept so the encoded-pointer contract is total.
var errLevelTombstoned = errors.New("ktab: trie level is tombstoned")
