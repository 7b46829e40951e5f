// Package migrate lifts records out of the legacy flat blob into the keyed
// local store.
//
// Earlier releases persisted everything as one JSON blob. The adapter
// replays that blob into the keyed store exactly once per owner, tagging
// every record pending so the sync coordinator pushes them upstream, then
// deletes the blob. Once the keyed collections are non-empty the adapter
// is a no-op, which prevents duplicate reseeding on every subsequent read.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// MigrationStore is the slice of the local store the adapter writes into.
type MigrationStore interface {
	Entries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error)
	Categories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error)
	BulkPutEntries(ctx context.Context, envs []model.EntryEnvelope) error
	BulkPutCategories(ctx context.Context, envs []model.CategoryEnvelope) error
}

// legacyBlob is the flat single-document shape of the pre-keyed store.
type legacyBlob struct {
	Transactions []legacyTransaction `json:"transactions"`
	Categories   []legacyCategory    `json:"categories"`
}

type legacyTransaction struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	CategoryID  string      `json:"categoryId"`
	Date        string      `json:"date"`
	Notes       string      `json:"notes,omitempty"`
	LastUpdated int64       `json:"lastUpdated,omitempty"` // unix millis
}

type legacyCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Type        string `json:"type"`
	IsDefault   bool   `json:"isDefault,omitempty"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
}

// Adapter performs the one-shot legacy import.
type Adapter struct {
	store  MigrationStore
	path   string
	logger *log.Logger
}

// New creates an Adapter reading the legacy blob at path.
// If logger is nil, a default logger writing to stderr is used.
func New(store MigrationStore, path string, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Adapter{store: store, path: path, logger: logger}
}

// Run migrates the legacy blob for the owner if, and only if, the keyed
// collections are still empty and the blob exists. Call it on the first
// read path; every later call is a no-op.
func (a *Adapter) Run(ctx context.Context, ownerID string) error {
	entries, err := a.store.Entries(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to check existing entries: %w", err)
	}
	cats, err := a.store.Categories(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to check existing categories: %w", err)
	}
	if len(entries) > 0 || len(cats) > 0 {
		return nil
	}

	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy blob: %w", err)
	}

	var blob legacyBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("failed to parse legacy blob: %w", err)
	}

	entryEnvs, err := convertTransactions(ownerID, blob.Transactions)
	if err != nil {
		return err
	}
	catEnvs := convertCategories(ownerID, blob.Categories)

	// Everything lands pending so the coordinator pushes it upstream.
	if err := a.store.BulkPutEntries(ctx, entryEnvs); err != nil {
		return fmt.Errorf("failed to replay legacy transactions: %w", err)
	}
	if err := a.store.BulkPutCategories(ctx, catEnvs); err != nil {
		return fmt.Errorf("failed to replay legacy categories: %w", err)
	}

	if err := os.Remove(a.path); err != nil {
		// The keyed collections are populated now, so the empty-check
		// keeps this one-shot even if the blob lingers.
		a.logger.Printf("WARNING: failed to delete legacy blob %s: %v", a.path, err)
	}

	a.logger.Printf("Migrated %d transactions and %d categories from legacy blob",
		len(entryEnvs), len(catEnvs))
	return nil
}

func convertTransactions(ownerID string, txs []legacyTransaction) ([]model.EntryEnvelope, error) {
	envs := make([]model.EntryEnvelope, 0, len(txs))
	for _, tx := range txs {
		amount, err := decimal.NewFromString(tx.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("legacy transaction %s has bad amount %q: %w", tx.ID, tx.Amount, err)
		}
		occurred, err := time.Parse(time.RFC3339, tx.Date)
		if err != nil {
			// Legacy dates were sometimes bare days.
			occurred, err = time.Parse("2006-01-02", tx.Date)
			if err != nil {
				return nil, fmt.Errorf("legacy transaction %s has bad date %q: %w", tx.ID, tx.Date, err)
			}
		}

		entry := model.LedgerEntry{
			ID:         tx.ID,
			Amount:     amount,
			Kind:       model.Kind(tx.Type),
			CategoryID: tx.CategoryID,
			OccurredAt: occurred.UTC(),
			Note:       tx.Notes,
			CreatedAt:  legacyTime(tx.LastUpdated),
			UpdatedAt:  legacyTime(tx.LastUpdated),
		}
		entry.SetDefaults()

		envs = append(envs, model.EntryEnvelope{
			OwnerID: ownerID,
			Status:  model.StatusPending,
			Entry:   entry,
		})
	}
	return envs, nil
}

func convertCategories(ownerID string, cats []legacyCategory) []model.CategoryEnvelope {
	envs := make([]model.CategoryEnvelope, 0, len(cats))
	for _, lc := range cats {
		cat := model.Category{
			ID:               lc.ID,
			Name:             lc.Name,
			Icon:             lc.Icon,
			Color:            lc.Color,
			Kind:             model.Kind(lc.Type),
			IsFactoryDefault: lc.IsDefault,
			CreatedAt:        legacyTime(lc.LastUpdated),
			UpdatedAt:        legacyTime(lc.LastUpdated),
		}
		cat.SetDefaults()

		envs = append(envs, model.CategoryEnvelope{
			OwnerID:  ownerID,
			Status:   model.StatusPending,
			Category: cat,
		})
	}
	return envs
}

func legacyTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
