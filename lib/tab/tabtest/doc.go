// Package tabtest provides standardised tests and benchmarks for
// handle table configurations.
//
// The package contains:
//   - testing: A test suite validating the table contract (id uniqueness,
//     reference counting, version checks, slot recycling and tombstoning)
//   - benchmark: Performance tests for measuring throughput of common
//     table operations
//
// This package is particularly useful for:
//   - Validating non-default table configurations (custom allocators,
//     reduced version ranges, zombie tombstones)
//   - Comparing allocator implementations under table workloads
//
// Example usage:
//
//	// Creating a factory function for your configuration
//	factory := func() *tab.Table {
//		return tab.New(tab.DefaultOptions())
//	}
//
//	// Running the standard test suite
//	tabtest.RunTableTests(t, "Default", factory)
//
//	// Running performance benchmarks
//	tabtest.RunTableBenchmarks(b, "Default", factory)
package tabtest
