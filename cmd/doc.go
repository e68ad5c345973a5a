// Package cmd implements the command-line interface for ktab, the
// kernel global handle table. It provides a hierarchical command
// structure with operations for exercising and measuring the table.
//
// The package is organized into several subpackages:
//
//   - bench: Benchmark workloads against a local table
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ktab -help for a list of all commands.
package cmd
