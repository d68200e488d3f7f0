package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roosthq/roost/pkg/faults"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig      string
	flagLogLevel    string
	flagJSONLog     bool
	flagMetricsAddr string

	// degradedRun is set when a run finished with accumulated warnings
	degradedRun bool
)

var rootCmd = &cobra.Command{
	Use:   "roost",
	Short: "Roost - declarative guest convergence for a single host",
	Long: `Roost converges a host of containers and virtual machines toward
a declarative specification: guest lifecycle, feature application,
hardware passthrough, derived network artifacts, and application
stacks, all in one idempotent pass.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Roost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "/etc/roost/roost.yaml", "orchestrator settings file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "emit JSON logs instead of console output")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the run")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(convergeCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printFatal(err)
		os.Exit(faults.ExitCode(err, false))
	}
	os.Exit(faults.ExitCode(nil, degradedRun))
}

// printFatal renders the failure for the operator, including the last
// external command attempted when one is recorded
func printFatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var f *faults.Fault
	if errors.As(err, &f) && f.Command != "" {
		fmt.Fprintf(os.Stderr, "  last command: %s\n", f.Command)
		if f.Output != "" {
			fmt.Fprintf(os.Stderr, "  output: %s\n", f.Output)
		}
	}
}
