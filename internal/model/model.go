// Package model provides the data structures shared by the fintrack sync engine.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies a ledger entry or category as money in or money out.
type Kind string

const (
	// KindIncome marks records that add to the balance.
	KindIncome Kind = "income"
	// KindExpense marks records that subtract from the balance.
	KindExpense Kind = "expense"
)

// Valid reports whether the kind is one of the two known values.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// SyncStatus tracks whether a local record has been confirmed on the remote store.
type SyncStatus string

const (
	// StatusPending marks records written locally and not yet acknowledged upstream.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks records confirmed by the remote store.
	StatusSynced SyncStatus = "synced"
)

// UncategorizedLabel is the display fallback for ledger entries whose
// category has been deleted. Dangling category references are tolerated,
// never repaired.
const UncategorizedLabel = "Uncategorized"

// LedgerEntry is a single income or expense record.
// Timestamps use last-write-wins semantics for conflict resolution:
// the copy with the higher UpdatedAt replaces the other.
type LedgerEntry struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       Kind            `json:"kind"`
	CategoryID string          `json:"category_id,omitempty"` // soft reference, may dangle
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Validate checks that the entry has valid field values.
func (e *LedgerEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative (got %s)", e.Amount)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("kind must be income or expense (got %q)", e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// SetDefaults fills in identifiers and timestamps that were omitted.
func (e *LedgerEntry) SetDefaults() {
	if e.ID == "" {
		e.ID = NewID()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
}

// Touch refreshes UpdatedAt. Call whenever any field is modified locally.
func (e *LedgerEntry) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// Category labels ledger entries. Deleting a category never cascades:
// entries keep their CategoryID and render with UncategorizedLabel.
type Category struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Icon             string    `json:"icon"`
	Color            string    `json:"color"`
	Kind             Kind      `json:"kind"`
	IsFactoryDefault bool      `json:"is_factory_default"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks that the category has valid field values.
func (c *Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("kind must be income or expense (got %q)", c.Kind)
	}
	return nil
}

// SetDefaults fills in identifiers, timestamps, and a preset icon and
// color when they were omitted.
func (c *Category) SetDefaults() {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Icon == "" {
		c.Icon = PresetIcon(c.Name)
	}
	if c.Color == "" {
		c.Color = PresetColor(c.Name)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Touch refreshes UpdatedAt.
func (c *Category) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

// EntryEnvelope wraps a ledger entry with its owner scope and sync status.
// Every local read and write is partitioned by OwnerID.
type EntryEnvelope struct {
	OwnerID string      `json:"owner_id"`
	Status  SyncStatus  `json:"sync_status"`
	Entry   LedgerEntry `json:"entry"`
}

// CategoryEnvelope wraps a category with its owner scope and sync status.
type CategoryEnvelope struct {
	OwnerID  string     `json:"owner_id"`
	Status   SyncStatus `json:"sync_status"`
	Category Category   `json:"category"`
}

// AccountProfile is the per-owner document created once on first sign-in.
// HasSeededDefaults is the durable guard against re-seeding the factory
// category set; it flips in the same atomic commit as the seed itself.
type AccountProfile struct {
	OwnerID                string    `json:"owner_id"`
	Email                  string    `json:"email"`
	Currency               string    `json:"currency"`
	Theme                  string    `json:"theme"`
	HasCompletedOnboarding bool      `json:"has_completed_onboarding"`
	HasSeededDefaults      bool      `json:"has_seeded_defaults"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NewID returns a fresh opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// CategoryName resolves a category id against the given set, falling back
// to UncategorizedLabel when the reference dangles.
func CategoryName(categories []Category, id string) string {
	for i := range categories {
		if categories[i].ID == id {
			return categories[i].Name
		}
	}
	return UncategorizedLabel
}
