// fintrackd runs the fintrack sync engine headless.
//
// The engine itself is a library consumed by a UI shell; this binary is
// the operational harness around it: a long-running daemon, a one-shot
// drain pass, and a status report.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fintrackd",
	Short: "Local-first personal finance sync engine",
	Long: `fintrackd hosts the fintrack sync core: the durable local cache,
the pending-write queue, reconciliation against the remote store, and the
live merge of remote changes.

Configuration comes from FINTRACK_* environment variables or an optional
fintrack.yaml (see 'fintrackd status' for resolved paths).`,
}

func main() {
	// .env is optional; deployments usually inject the environment.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
