package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vdevctl",
	Short: "Storage pool virtual-device inspection tool",
	Long: `vdevctl exercises the pool manager's disk-vdev backend against raw
disk images: it enumerates providers, reads and stamps identity labels,
and runs the full open/resolve path to report negotiated geometry.

Commands:
  devices     List providers backed by disk images
  label       Read or write on-media identity labels
  open        Open a vdev against an image and report its geometry`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Only global output control flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")

	rootCmd.AddCommand(
		devicesCmd,
		labelCmd,
		openCmd,
	)
}

// newLogger builds the CLI logger honoring the global output flags.
func newLogger() *zap.Logger {
	if quiet {
		return zap.NewNop()
	}
	if verbose {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
