//go:build !tabrelease

package tab

// debugChecks enables precondition assertions (panics) on protocol
// violations: double frees, claims of non-free slots, reads while
// holding one's own write lock. Build with -tags tabrelease to compile
// them out.
const debugChecks = true
