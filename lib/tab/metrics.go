package tab

import "github.com/VictoriaMetrics/metrics"

// Counters are process-wide (summed over all tables); the hot paths
// only ever touch them with a single atomic increment.
var (
	tabAdds         = metrics.NewCounter("tab_adds_total")
	tabFrees        = metrics.NewCounter("tab_frees_total")
	tabLookups      = metrics.NewCounter("tab_lookups_total")
	tabLookupMisses = metrics.NewCounter("tab_lookup_misses_total")
	tabTombstones   = metrics.NewCounter("tab_tombstones_total")
	tabPagesAlloced = metrics.NewCounter("tab_trie_pages_total")
)
