package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/fintrack/internal/auth"
	"github.com/mschirtzinger/fintrack/internal/config"
	"github.com/mschirtzinger/fintrack/internal/engine"
	"github.com/mschirtzinger/fintrack/internal/logging"
	"github.com/mschirtzinger/fintrack/internal/remote"
	"github.com/mschirtzinger/fintrack/internal/settings"
	"github.com/mschirtzinger/fintrack/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine until interrupted",
	Long: `Start the engine and keep it running:

  1. Hydrates the identity (static provider, FINTRACK_OWNER_ID)
  2. Bootstraps the account profile and factory categories
  3. Attaches live merge subscriptions
  4. Drains the pending queue on every local write

Stop with SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.OwnerID == "" {
			return fmt.Errorf("FINTRACK_OWNER_ID is required for daemon mode")
		}

		logger := logging.New("[fintrackd] ", logging.Writer(cfg.LogFile))

		db, err := store.Open(cfg.DatabasePath(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		rs := openRemote(cfg)
		sets := settings.NewStore(cfg.SettingsPath(), logger)
		defer sets.Close()

		provider := auth.NewStaticProvider(cfg.OwnerID, cfg.OwnerEmail)
		eng := engine.New(db, rs, provider, sets, engine.Config{
			LegacyBlobPath: cfg.LegacyBlobPath(),
		}, logger)
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := eng.Start(ctx); err != nil {
			return err
		}

		status := eng.Auth().WaitReady(ctx)
		logger.Printf("Identity hydrated: %s", status)

		<-ctx.Done()
		logger.Printf("Shutting down")
		return nil
	},
}

// openRemote selects the document store client: websocket/HTTP against a
// configured endpoint, in-memory otherwise (offline dev harness).
func openRemote(cfg *config.Config) remote.Store {
	if cfg.RemoteEndpoint == "" {
		fmt.Fprintln(os.Stderr, "Warning: no remote endpoint configured, using in-memory store")
		return remote.NewMemory()
	}
	return remote.NewClient(cfg.RemoteEndpoint, cfg.APIKey, nil)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
