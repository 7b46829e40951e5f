package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/fintrack/internal/config"
	"github.com/mschirtzinger/fintrack/internal/logging"
	"github.com/mschirtzinger/fintrack/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report local cache and pending-queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.OwnerID == "" {
			return fmt.Errorf("FINTRACK_OWNER_ID is required")
		}

		db, err := store.Open(cfg.DatabasePath(), logging.New("[status] ", logging.Writer(cfg.LogFile)))
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		entries, err := db.Entries(ctx, cfg.OwnerID)
		if err != nil {
			return err
		}
		categories, err := db.Categories(ctx, cfg.OwnerID)
		if err != nil {
			return err
		}
		pendingEntries, err := db.PendingEntries(ctx, cfg.OwnerID)
		if err != nil {
			return err
		}
		pendingCategories, err := db.PendingCategories(ctx, cfg.OwnerID)
		if err != nil {
			return err
		}

		fmt.Printf("Database:   %s\n", cfg.DatabasePath())
		fmt.Printf("Owner:      %s\n", cfg.OwnerID)
		fmt.Printf("Entries:    %d (%d pending upload)\n", len(entries), len(pendingEntries))
		fmt.Printf("Categories: %d (%d pending upload)\n", len(categories), len(pendingCategories))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
