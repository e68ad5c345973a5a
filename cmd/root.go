package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halcyon-os/ktab/cmd/bench"
	"github.com/halcyon-os/ktab/cmd/util"
	"github.com/halcyon-os/ktab/lib/logutil"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ktab",
		Short: "kernel global handle table",
		Long: fmt.Sprintf(`ktab (v%s)

The kernel's global handle table: a largely lock-free registry mapping
opaque 64-bit ids to kernel objects, with versioned slots, reference
counting, and per-slot reentrant core-affine locking.`, Version),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitConfig()
			_ = viper.BindPFlags(cmd.Flags())
			logutil.InitLoggers(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ktab",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ktab v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
