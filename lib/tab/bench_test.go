package tab_test

import (
	"testing"

	"github.com/halcyon-os/ktab/lib/tab"
	"github.com/halcyon-os/ktab/lib/tab/tabtest"
)

func BenchmarkTable(b *testing.B) {
	tabtest.RunTableBenchmarks(b, "Default", func() *tab.Table {
		return tab.New(tab.DefaultOptions())
	})
}
