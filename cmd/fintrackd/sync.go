package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/fintrack/internal/config"
	"github.com/mschirtzinger/fintrack/internal/logging"
	"github.com/mschirtzinger/fintrack/internal/store"
	"github.com/mschirtzinger/fintrack/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one drain pass over the pending queue",
	Long: `Upload every pending record for the configured owner, then exit.

Records that fail to upload stay pending and are retried on the next
pass; a pass with nothing pending is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.OwnerID == "" {
			return fmt.Errorf("FINTRACK_OWNER_ID is required")
		}

		logger := logging.New("[sync] ", logging.Writer(cfg.LogFile))

		db, err := store.Open(cfg.DatabasePath(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		coordinator := syncer.New(db, openRemote(cfg), cfg.OwnerID, logger)

		start := time.Now()
		coordinator.Sync(context.Background())
		fmt.Printf("Sync pass complete in %v (%s)\n",
			time.Since(start).Round(time.Millisecond), coordinator.Status())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
