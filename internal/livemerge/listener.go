// Package livemerge subscribes to the remote store's live queries and folds
// incoming snapshots into the local store.
//
// Records arriving from a live subscription are treated as already synced.
// Snapshots sourced purely from local cache are applied for responsiveness
// but never flip the loaded indicator: a consumer waiting on first real
// data must not unblock on stale cache.
package livemerge

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
)

// MergeStore is the slice of the local store the listener folds into.
type MergeStore interface {
	Entry(ctx context.Context, id string) (*model.EntryEnvelope, error)
	Category(ctx context.Context, id string) (*model.CategoryEnvelope, error)
	Entries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error)
	Categories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error)
	PutEntry(ctx context.Context, env model.EntryEnvelope) error
	PutCategory(ctx context.Context, env model.CategoryEnvelope) error
	DeleteEntry(ctx context.Context, id string) error
	DeleteCategory(ctx context.Context, id string) error
}

// Config holds construction options for the Listener.
type Config struct {
	// Strategy resolves conflicts between local and remote copies.
	// Defaults to LastWriteWins when nil.
	Strategy Strategy

	// LoadTimeout bounds how long WaitLoaded blocks before releasing
	// the caller. The subscriptions stay attached. Zero means no
	// watchdog.
	LoadTimeout time.Duration

	// Logger for merge activity. Defaults to stderr when nil.
	Logger *log.Logger
}

// Listener maintains one live query per collection for a signed-in owner.
type Listener struct {
	store    MergeStore
	remote   remote.Store
	ownerID  string
	strategy Strategy
	timeout  time.Duration
	logger   *log.Logger

	// alive guards against a stale callback mutating state after Detach.
	alive atomic.Bool

	mu               sync.Mutex
	unsubs           []remote.Unsubscribe
	entriesLoaded    bool
	categoriesLoaded bool

	loadedOnce sync.Once
	loaded     chan struct{}
}

// New creates a detached Listener for the owner.
func New(store MergeStore, rs remote.Store, ownerID string, cfg Config) *Listener {
	strategy := cfg.Strategy
	if strategy == nil {
		strategy = LastWriteWins{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &Listener{
		store:    store,
		remote:   rs,
		ownerID:  ownerID,
		strategy: strategy,
		timeout:  cfg.LoadTimeout,
		logger:   logger,
		loaded:   make(chan struct{}),
	}
}

// Attach subscribes to both collections. Call once per sign-in; Detach
// tears both subscriptions down.
func (l *Listener) Attach(ctx context.Context) error {
	l.alive.Store(true)

	unsubEntries, err := l.remote.SubscribeEntries(ctx, l.ownerID, l.onEntries)
	if err != nil {
		return err
	}

	unsubCats, err := l.remote.SubscribeCategories(ctx, l.ownerID, l.onCategories)
	if err != nil {
		unsubEntries()
		return err
	}

	l.mu.Lock()
	l.unsubs = append(l.unsubs, unsubEntries, unsubCats)
	l.mu.Unlock()

	l.logger.Printf("Live merge attached for owner %s", l.ownerID)
	return nil
}

// Detach unsubscribes both live queries. Synchronous and immediate from
// the caller's perspective; a snapshot already in flight checks the
// liveness flag and mutates nothing.
func (l *Listener) Detach() {
	l.alive.Store(false)

	l.mu.Lock()
	unsubs := l.unsubs
	l.unsubs = nil
	l.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Loaded reports whether at least one server-confirmed snapshot has
// arrived for both collections.
func (l *Listener) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesLoaded && l.categoriesLoaded
}

// WaitLoaded blocks until the first server-confirmed snapshots arrive,
// the context is done, or the load watchdog expires. On expiry the caller
// is released; the subscriptions are not cancelled.
func (l *Listener) WaitLoaded(ctx context.Context) bool {
	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-l.loaded:
	case <-ctx.Done():
	case <-timeout:
		l.logger.Printf("WARNING: load watchdog expired after %s", l.timeout)
	}
	return l.Loaded()
}

func (l *Listener) onEntries(snap remote.EntrySnapshot) {
	if !l.alive.Load() {
		return
	}

	ctx := context.Background()
	for _, e := range snap.Entries {
		if err := l.mergeEntry(ctx, e); err != nil {
			l.logger.Printf("WARNING: failed to merge entry %s: %v", e.ID, err)
		}
	}

	if snap.FromCache {
		return
	}

	if err := l.reconcileEntries(ctx, snap.Entries); err != nil {
		l.logger.Printf("WARNING: failed to reconcile deleted entries: %v", err)
	}
	l.markLoaded(func() { l.entriesLoaded = true })
}

func (l *Listener) onCategories(snap remote.CategorySnapshot) {
	if !l.alive.Load() {
		return
	}

	ctx := context.Background()
	for _, c := range snap.Categories {
		if err := l.mergeCategory(ctx, c); err != nil {
			l.logger.Printf("WARNING: failed to merge category %s: %v", c.ID, err)
		}
	}

	if snap.FromCache {
		return
	}

	if err := l.reconcileCategories(ctx, snap.Categories); err != nil {
		l.logger.Printf("WARNING: failed to reconcile deleted categories: %v", err)
	}
	l.markLoaded(func() { l.categoriesLoaded = true })
}

// reconcileEntries removes synced local entries absent from a
// server-confirmed snapshot. The snapshot is the complete remote
// collection for the owner, so a synced record missing from it was
// deleted on another replica. Pending records are local-only until
// uploaded and are left alone; cache-origin snapshots never reconcile.
func (l *Listener) reconcileEntries(ctx context.Context, records []model.LedgerEntry) error {
	present := make(map[string]struct{}, len(records))
	for _, e := range records {
		present[e.ID] = struct{}{}
	}

	locals, err := l.store.Entries(ctx, l.ownerID)
	if err != nil {
		return err
	}
	for _, env := range locals {
		if env.Status != model.StatusSynced {
			continue
		}
		if _, ok := present[env.Entry.ID]; ok {
			continue
		}
		if !l.alive.Load() {
			return nil
		}
		if err := l.store.DeleteEntry(ctx, env.Entry.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) reconcileCategories(ctx context.Context, records []model.Category) error {
	present := make(map[string]struct{}, len(records))
	for _, c := range records {
		present[c.ID] = struct{}{}
	}

	locals, err := l.store.Categories(ctx, l.ownerID)
	if err != nil {
		return err
	}
	for _, env := range locals {
		if env.Status != model.StatusSynced {
			continue
		}
		if _, ok := present[env.Category.ID]; ok {
			continue
		}
		if !l.alive.Load() {
			return nil
		}
		if err := l.store.DeleteCategory(ctx, env.Category.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) markLoaded(set func()) {
	l.mu.Lock()
	set()
	done := l.entriesLoaded && l.categoriesLoaded
	l.mu.Unlock()

	if done {
		l.loadedOnce.Do(func() { close(l.loaded) })
	}
}

// mergeEntry folds one remote entry into the local store under the
// conflict strategy. A remote record is already synced by definition.
func (l *Listener) mergeEntry(ctx context.Context, e model.LedgerEntry) error {
	local, err := l.store.Entry(ctx, e.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if local != nil && !l.strategy.TakeRemote(local.Entry.UpdatedAt, e.UpdatedAt) {
		return nil
	}
	// A detach may have landed while we were reading.
	if !l.alive.Load() {
		return nil
	}

	return l.store.PutEntry(ctx, model.EntryEnvelope{
		OwnerID: l.ownerID,
		Status:  model.StatusSynced,
		Entry:   e,
	})
}

func (l *Listener) mergeCategory(ctx context.Context, c model.Category) error {
	local, err := l.store.Category(ctx, c.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if local != nil && !l.strategy.TakeRemote(local.Category.UpdatedAt, c.UpdatedAt) {
		return nil
	}
	if !l.alive.Load() {
		return nil
	}

	return l.store.PutCategory(ctx, model.CategoryEnvelope{
		OwnerID:  l.ownerID,
		Status:   model.StatusSynced,
		Category: c,
	})
}
