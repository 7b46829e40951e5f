package store

import (
	"context"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// Store is the narrow surface the rest of the engine depends on.
//
// The backing engine (embedded SQLite, memory, structured file) is
// swappable without touching callers. All reads and writes are scoped
// by owner id; there is no cross-account access path.
type Store interface {
	// PutEntry upserts an entry envelope by record id. Idempotent;
	// the last writer in the same process wins. There is no
	// cross-process lock.
	PutEntry(ctx context.Context, env model.EntryEnvelope) error

	// PutCategory upserts a category envelope by record id.
	PutCategory(ctx context.Context, env model.CategoryEnvelope) error

	// Entries returns every entry envelope for the owner.
	Entries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error)

	// Categories returns every category envelope for the owner.
	Categories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error)

	// PendingEntries returns the owner's entries still awaiting upload.
	PendingEntries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error)

	// PendingCategories returns the owner's categories still awaiting upload.
	PendingCategories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error)

	// DeleteEntry removes an entry immediately and unconditionally.
	DeleteEntry(ctx context.Context, id string) error

	// DeleteCategory removes a category immediately and unconditionally.
	// Entries referencing it keep their category id (soft reference).
	DeleteCategory(ctx context.Context, id string) error

	// MarkEntrySynced flips the entry's status in place.
	// No-op if the record no longer exists.
	MarkEntrySynced(ctx context.Context, id string) error

	// MarkCategorySynced flips the category's status in place.
	MarkCategorySynced(ctx context.Context, id string) error

	// BulkPutEntries writes all envelopes in one atomic unit.
	BulkPutEntries(ctx context.Context, envs []model.EntryEnvelope) error

	// BulkPutCategories writes all envelopes in one atomic unit.
	// Used by seeding and migration for throughput and atomicity.
	BulkPutCategories(ctx context.Context, envs []model.CategoryEnvelope) error

	// Clear wipes both collections. Used by full reset.
	Clear(ctx context.Context) error
}
