package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corelinkd",
	Short: "corelinkd - inter-worker RPC connection layer demo daemon",
	Long: `corelinkd hosts the reference wiring for pkg/rpcpool and pkg/executor:
a membership-backed node registry, a raylet-equivalent liveness responder,
and a bounded-executor dispatch path a peer worker can drive RPCs through.

It is a demonstration and load-generation harness for the core library,
not a production control plane.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"corelinkd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(benchCmd)
}
