// Package remote defines the push-capable remote document store the sync
// engine reconciles against, plus its concrete client implementations.
//
// Each owner has two sub-collections, transactions and categories, mirroring
// the entity fields with server-assigned timestamps. The store offers live
// query subscriptions ordered by creation time descending; snapshot callbacks
// arrive in the server's commit order within one subscription, with no
// ordering guarantee across subscriptions.
package remote

import (
	"context"
	"errors"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// ErrUnavailable marks a transient upload failure (offline, timeout,
// transient server error). Records stay pending and are retried on the
// next sync trigger; the failure is never user-visible.
var ErrUnavailable = errors.New("remote store unavailable")

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// EntrySnapshot is one delivery from a live transactions subscription.
// FromCache marks snapshots sourced purely from local cache, not yet
// confirmed by the server: consumers apply them to state for responsiveness
// but must not treat them as the first real data load.
type EntrySnapshot struct {
	Entries   []model.LedgerEntry
	FromCache bool
}

// CategorySnapshot is one delivery from a live categories subscription.
type CategorySnapshot struct {
	Categories []model.Category
	FromCache  bool
}

// Unsubscribe detaches a live subscription. Detach is synchronous and
// immediate from the caller's perspective; callbacks already in flight
// may still complete and must be guarded by the caller's liveness flag.
type Unsubscribe func()

// Store is the remote document store consumed by the engine.
// Transport details are a collaborator concern; implementations include
// the websocket/HTTP client and the in-memory store used by tests and
// the offline dev harness.
type Store interface {
	// UpsertEntry writes an entry to the owner's transactions collection.
	// A missing id is generated, an existing CreatedAt is preserved, and
	// UpdatedAt is always stamped with the server clock at commit time.
	// The stored record is returned.
	UpsertEntry(ctx context.Context, ownerID string, e model.LedgerEntry) (model.LedgerEntry, error)

	// UpsertCategory writes a category with the same id/timestamp rules.
	UpsertCategory(ctx context.Context, ownerID string, c model.Category) (model.Category, error)

	// DeleteEntry removes an entry unconditionally by id.
	DeleteEntry(ctx context.Context, ownerID, id string) error

	// DeleteCategory removes a category unconditionally by id.
	DeleteCategory(ctx context.Context, ownerID, id string) error

	// SubscribeEntries attaches a live query over the owner's transactions,
	// ordered by creation time descending.
	SubscribeEntries(ctx context.Context, ownerID string, fn func(EntrySnapshot)) (Unsubscribe, error)

	// SubscribeCategories attaches a live query over the owner's categories.
	SubscribeCategories(ctx context.Context, ownerID string, fn func(CategorySnapshot)) (Unsubscribe, error)

	// Profile reads the owner's account profile. Returns ErrNotFound when
	// the owner has never signed in before.
	Profile(ctx context.Context, ownerID string) (*model.AccountProfile, error)

	// PutProfile creates or replaces the owner's account profile.
	PutProfile(ctx context.Context, profile model.AccountProfile) error

	// CommitSeed writes the factory category set and flips the profile's
	// HasSeededDefaults flag in a single atomic batch. Partial seeding is
	// never observable.
	CommitSeed(ctx context.Context, ownerID string, cats []model.Category) error
}
