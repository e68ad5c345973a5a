//go:build tabrelease

package tab

// debugChecks is off in release builds: protocol violations go
// unchecked and the affected operations run best-effort.
const debugChecks = false
