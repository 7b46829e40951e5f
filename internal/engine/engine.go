// Package engine wires the fintrack core together: local store, pending
// queue, sync coordinator, live merge, account bootstrap, and the auth
// state machine.
//
// Control flow: the auth machine resolves first; once authenticated, the
// profile initializer runs once per account, then the live merge listener
// attaches and the legacy migration populates the local store. User
// actions write locally (pending) and kick the sync coordinator, which
// uploads to the remote store and flips records to synced. Remote changes
// flow back through the live merge listener.
//
// The engine is a library consumed by a UI shell; it has no runtime flag
// surface of its own.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/fintrack/internal/account"
	"github.com/mschirtzinger/fintrack/internal/auth"
	"github.com/mschirtzinger/fintrack/internal/livemerge"
	"github.com/mschirtzinger/fintrack/internal/migrate"
	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
	"github.com/mschirtzinger/fintrack/internal/settings"
	"github.com/mschirtzinger/fintrack/internal/store"
	"github.com/mschirtzinger/fintrack/internal/syncer"
)

// LocalStore is the full local surface the engine needs: the narrow Store
// interface plus single-record lookups for the merge path.
type LocalStore interface {
	store.Store
	Entry(ctx context.Context, id string) (*model.EntryEnvelope, error)
	Category(ctx context.Context, id string) (*model.CategoryEnvelope, error)
}

// Config holds construction options for the Engine.
type Config struct {
	// LegacyBlobPath locates the pre-keyed flat blob. Empty disables
	// migration.
	LegacyBlobPath string

	// HydrationTimeout bounds identity hydration before the UI is
	// released. Defaults to 8s.
	HydrationTimeout time.Duration

	// LoadTimeout bounds initial data hydration. Defaults to 8s.
	LoadTimeout time.Duration

	// Logger for engine lifecycle events. Defaults to the auth
	// machine's logger conventions when nil.
	Logger *log.Logger
}

// Engine is the session-scoped core object.
type Engine struct {
	store       LocalStore
	remote      remote.Store
	settings    *settings.Store
	auth        *auth.Machine
	initializer *account.Initializer
	cfg         Config
	logger      *log.Logger

	mu          sync.Mutex
	ownerID     string
	coordinator *syncer.Coordinator
	listener    *livemerge.Listener
	migrated    map[string]bool
	cancelRun   context.CancelFunc
}

// New assembles an engine over the given collaborators and registers the
// post-login side effects on the auth machine.
func New(local LocalStore, rs remote.Store, provider auth.Provider, sets *settings.Store, cfg Config, logger *log.Logger) *Engine {
	if cfg.HydrationTimeout == 0 {
		cfg.HydrationTimeout = 8 * time.Second
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = 8 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	e := &Engine{
		store:       local,
		remote:      rs,
		settings:    sets,
		initializer: account.New(rs, logger),
		cfg:         cfg,
		logger:      logger,
		migrated:    make(map[string]bool),
	}

	e.auth = auth.New(provider, auth.Config{
		HydrationTimeout: cfg.HydrationTimeout,
		Logger:           logger,
	})
	e.auth.OnAuthenticated(e.onAuthenticated)
	return e
}

// Auth exposes the state machine for status observation and sign-in flows.
func (e *Engine) Auth() *auth.Machine {
	return e.auth
}

// Start hydrates auth. Data attaches via the authenticated hook.
func (e *Engine) Start(ctx context.Context) error {
	return e.auth.Start(ctx)
}

// Close tears the session down: auth listener, live merge, coordinator.
func (e *Engine) Close() {
	e.auth.Close()
}

// onAuthenticated is the post-login side effect chain: bootstrap the
// account, attach live merge, start the sync coordinator. The returned
// detach runs synchronously on sign-out.
func (e *Engine) onAuthenticated(ctx context.Context, ident auth.Identity) (func(), error) {
	// Bootstrap failures are logged by the auth machine and must not
	// block the session, so they come back as the hook error while the
	// rest still attaches.
	initErr := e.initializer.EnsureAccount(ctx, ident.OwnerID, ident.Email)

	listener := livemerge.New(e.store, e.remote, ident.OwnerID, livemerge.Config{
		LoadTimeout: e.cfg.LoadTimeout,
		Logger:      e.logger,
	})
	if err := listener.Attach(ctx); err != nil {
		return nil, fmt.Errorf("failed to attach live merge: %w", err)
	}

	coordinator := syncer.New(e.store, e.remote, ident.OwnerID, e.logger)
	runCtx, cancel := context.WithCancel(context.Background())
	coordinator.Start(runCtx)

	e.mu.Lock()
	e.ownerID = ident.OwnerID
	e.listener = listener
	e.coordinator = coordinator
	e.cancelRun = cancel
	e.mu.Unlock()

	detach := func() {
		listener.Detach()
		cancel()
		coordinator.Wait()

		e.mu.Lock()
		if e.listener == listener {
			e.ownerID = ""
			e.listener = nil
			e.coordinator = nil
			e.cancelRun = nil
		}
		e.mu.Unlock()
	}
	return detach, initErr
}

// owner returns the signed-in owner id and coordinator, or an error while
// signed out.
func (e *Engine) owner() (string, *syncer.Coordinator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ownerID == "" {
		return "", nil, fmt.Errorf("not signed in")
	}
	return e.ownerID, e.coordinator, nil
}

// SaveEntry writes a ledger entry locally as pending and kicks the sync
// coordinator. New entries get defaults; edits get a fresh UpdatedAt.
func (e *Engine) SaveEntry(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error) {
	ownerID, coordinator, err := e.owner()
	if err != nil {
		return model.LedgerEntry{}, err
	}

	entry.SetDefaults()
	entry.Touch()
	if err := entry.Validate(); err != nil {
		return model.LedgerEntry{}, err
	}

	err = e.store.PutEntry(ctx, model.EntryEnvelope{
		OwnerID: ownerID,
		Status:  model.StatusPending,
		Entry:   entry,
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	coordinator.Kick()
	return entry, nil
}

// DeleteEntry removes an entry immediately locally and attempts the
// remote delete. There is no tombstone: a failed remote delete is logged
// and the remote copy survives until deleted again.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	ownerID, _, err := e.owner()
	if err != nil {
		return err
	}

	if err := e.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	if err := e.remote.DeleteEntry(ctx, ownerID, id); err != nil {
		e.logger.Printf("WARNING: remote delete of entry %s failed: %v", id, err)
	}
	return nil
}

// SaveCategory writes a category locally as pending and kicks the sync
// coordinator.
func (e *Engine) SaveCategory(ctx context.Context, cat model.Category) (model.Category, error) {
	ownerID, coordinator, err := e.owner()
	if err != nil {
		return model.Category{}, err
	}

	cat.SetDefaults()
	cat.Touch()
	if err := cat.Validate(); err != nil {
		return model.Category{}, err
	}

	err = e.store.PutCategory(ctx, model.CategoryEnvelope{
		OwnerID:  ownerID,
		Status:   model.StatusPending,
		Category: cat,
	})
	if err != nil {
		return model.Category{}, err
	}

	coordinator.Kick()
	return cat, nil
}

// DeleteCategory removes a category locally and attempts the remote
// delete. Ledger entries referencing it keep their category id and
// render with the uncategorized fallback.
func (e *Engine) DeleteCategory(ctx context.Context, id string) error {
	ownerID, _, err := e.owner()
	if err != nil {
		return err
	}

	if err := e.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	if err := e.remote.DeleteCategory(ctx, ownerID, id); err != nil {
		e.logger.Printf("WARNING: remote delete of category %s failed: %v", id, err)
	}
	return nil
}

// Entries returns the owner's ledger entries. The first read per owner
// runs the legacy migration, which replays the flat blob into the keyed
// store as pending records and deletes it.
func (e *Engine) Entries(ctx context.Context) ([]model.EntryEnvelope, error) {
	ownerID, coordinator, err := e.owner()
	if err != nil {
		return nil, err
	}

	if e.runMigration(ctx, ownerID) {
		coordinator.Kick()
	}
	return e.store.Entries(ctx, ownerID)
}

// Categories returns the owner's categories.
func (e *Engine) Categories(ctx context.Context) ([]model.CategoryEnvelope, error) {
	ownerID, coordinator, err := e.owner()
	if err != nil {
		return nil, err
	}

	if e.runMigration(ctx, ownerID) {
		coordinator.Kick()
	}
	return e.store.Categories(ctx, ownerID)
}

// runMigration runs the one-shot legacy import. Reports whether a
// migration pass was attempted so callers can kick the coordinator.
func (e *Engine) runMigration(ctx context.Context, ownerID string) bool {
	if e.cfg.LegacyBlobPath == "" {
		return false
	}

	e.mu.Lock()
	if e.migrated[ownerID] {
		e.mu.Unlock()
		return false
	}
	e.migrated[ownerID] = true
	e.mu.Unlock()

	adapter := migrate.New(e.store, e.cfg.LegacyBlobPath, e.logger)
	if err := adapter.Run(ctx, ownerID); err != nil {
		e.logger.Printf("WARNING: legacy migration failed: %v", err)
	}
	return true
}

// Kick requests a sync pass, e.g. on a connectivity-restored event.
func (e *Engine) Kick() {
	e.mu.Lock()
	coordinator := e.coordinator
	e.mu.Unlock()
	if coordinator != nil {
		coordinator.Kick()
	}
}

// SyncStatus returns the coarse connectivity indicator, or offline while
// signed out.
func (e *Engine) SyncStatus() syncer.Status {
	e.mu.Lock()
	coordinator := e.coordinator
	e.mu.Unlock()
	if coordinator == nil {
		return syncer.StatusOffline
	}
	return coordinator.Status()
}

// Settings loads the preference blob.
func (e *Engine) Settings() (settings.UserSettings, error) {
	return e.settings.Load()
}

// UpdateSettings persists the preference blob.
func (e *Engine) UpdateSettings(s settings.UserSettings) error {
	if !model.ValidCurrency(s.Currency) {
		return fmt.Errorf("unknown currency %q", s.Currency)
	}
	return e.settings.Save(s)
}

// ClearAll is the full reset: wipes both local collections and the
// settings blob. Remote documents are untouched.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	return e.settings.Clear()
}
