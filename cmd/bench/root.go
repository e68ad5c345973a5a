package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halcyon-os/ktab/cmd/util"
	"github.com/halcyon-os/ktab/lib/kobj"
	"github.com/halcyon-os/ktab/lib/tab"
)

var (
	// BenchCmd benchmarks the handle table with configurable parallel workloads.
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmarking tool for the handle table",
		Long:    "",
		RunE:    run,
		PreRunE: processBenchConfig,
	}
	benchNumThreads = 10
	benchKeySpread  = 100
	benchSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. add,lookup)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many live handles to spread the lookup tests over"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print collected metrics in Prometheus text format after the run"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	if skip := viper.GetString("skip"); skip != "" {
		benchSkip = strings.Split(skip, ",")
	}

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Benchmarking tool for the handle table")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Handles: %d\n", benchKeySpread)
	fmt.Println()

	table := tab.New(tab.DefaultOptions())

	fmt.Println("starting benchmarks...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	addResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("add") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				h, err := tab.Add(table, kobj.Thread{State: kobj.ThreadRunnable})
				if err != nil {
					log.Printf("(add) - error adding entry: %v\n", err)
					continue
				}
				h.Release()
			}
		})
	})

	results["add"] = addResult
	printResult("add", addResult)

	// Populate a fixed set of handles for the read-side benchmarks.
	getHandle, iter := addHandles(table)

	lookupResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("lookup") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				h, ok := tab.Lookup[kobj.Thread](table, getHandle(counter).ID())
				if !ok {
					log.Printf("(lookup) - handle not found\n")
					continue
				}
				h.Release()
				counter++
			}
		})
	})

	results["lookup"] = lookupResult
	printResult("lookup", lookupResult)

	lookupMissResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("lookup-miss") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				// Flip the version bits so the id never resolves.
				id := getHandle(counter).ID() ^ 0x1fff_ffff
				if _, ok := table.LookupAny(id); ok {
					log.Printf("(lookup-miss) - stale id unexpectedly resolved\n")
				}
				counter++
			}
		})
	})

	results["lookup-miss"] = lookupMissResult
	printResult("lookup-miss", lookupMissResult)

	cloneReleaseResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("clone-release") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				getHandle(counter).Clone().Release()
				counter++
			}
		})
	})

	results["clone-release"] = cloneReleaseResult
	printResult("clone-release", cloneReleaseResult)

	withResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("with") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				getHandle(counter).With(func(t *kobj.Thread) {
					_ = t.State
				})
				counter++
			}
		})
	})

	results["with"] = withResult
	printResult("with", withResult)

	withMutResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("with-mut") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				getHandle(counter).WithMut(func(t *kobj.Thread) {
					t.Entry++
				})
				counter++
			}
		})
	})

	results["with-mut"] = withMutResult
	printResult("with-mut", withMutResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				h := getHandle(counter)
				switch counter % 4 {
				case 0: // add + release (slot recycles through the free list)
					fresh, err := tab.Add(table, kobj.Thread{})
					if err != nil {
						log.Printf("(mixed) - error adding entry: %v\n", err)
					} else {
						fresh.Release()
					}
				case 1: // lookup
					if got, ok := tab.Lookup[kobj.Thread](table, h.ID()); ok {
						got.Release()
					}
				case 2: // read
					h.With(func(t *kobj.Thread) { _ = t.State })
				case 3: // write
					h.WithMut(func(t *kobj.Thread) { t.Entry++ })
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Release the populated handles so the final table stats reflect the run.
	iter(func(h *tab.Tab[kobj.Thread]) { h.Release() })

	info := table.Info()
	fmt.Println()
	fmt.Printf("Table: %d slots minted, %d free, %d tombstoned\n", info.Minted, info.FreeListLen, info.Tombstones)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, false)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// addHandles populates the table with live entries and returns functions to
// work with them
func addHandles(table *tab.Table) (func(int) *tab.Tab[kobj.Thread], func(func(*tab.Tab[kobj.Thread]))) {
	handles := make([]*tab.Tab[kobj.Thread], benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		h, err := tab.Add(table, kobj.Thread{State: kobj.ThreadRunnable})
		if err != nil {
			log.Fatalf("failed to populate table: %v", err)
		}
		handles[i] = h
	}

	// Function to get a handle by index (with wraparound)
	getHandle := func(i int) *tab.Tab[kobj.Thread] {
		return handles[i%benchKeySpread]
	}

	// Function to iterate over all handles and apply a function to each
	iterateHandles := func(fn func(*tab.Tab[kobj.Thread])) {
		for _, h := range handles {
			fn(h)
		}
	}

	return getHandle, iterateHandles
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Threads", "Handles",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
