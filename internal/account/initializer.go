// Package account bootstraps an owner's remote profile on first sign-in.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
)

// Default profile values for a freshly created account.
const (
	DefaultCurrency = "INR"
	DefaultTheme    = "light"
)

// Initializer creates the account profile and seeds the factory category
// set exactly once per owner.
//
// It is double-guarded: an in-memory set short-circuits repeat calls
// within one process lifetime, and the persisted HasSeededDefaults flag is
// re-checked independently, so a second process (or a restart) still does
// the right thing. True simultaneous first-login from two processes can
// still double-seed before the flag is visible; that race needs a
// server-side transactional guard, not more client-side checking.
type Initializer struct {
	remote remote.Store
	logger *log.Logger

	mu   sync.Mutex
	done map[string]struct{}
}

// New creates an Initializer.
// If logger is nil, a default logger writing to stderr is used.
func New(rs remote.Store, logger *log.Logger) *Initializer {
	if logger == nil {
		logger = log.New(os.Stderr, "[account] ", log.LstdFlags)
	}
	return &Initializer{
		remote: rs,
		logger: logger,
		done:   make(map[string]struct{}),
	}
}

// EnsureAccount makes sure the owner has a profile document and the
// factory categories. Idempotent; safe to call on every sign-in.
func (i *Initializer) EnsureAccount(ctx context.Context, ownerID, email string) error {
	i.mu.Lock()
	if _, ok := i.done[ownerID]; ok {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()

	profile, err := i.remote.Profile(ctx, ownerID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		i.logger.Printf("New account, creating profile for %s", ownerID)
		created := model.AccountProfile{
			OwnerID:  ownerID,
			Email:    email,
			Currency: DefaultCurrency,
			Theme:    DefaultTheme,
		}
		if err := i.remote.PutProfile(ctx, created); err != nil {
			return fmt.Errorf("failed to create profile for %s: %w", ownerID, err)
		}
	case err != nil:
		return fmt.Errorf("failed to read profile for %s: %w", ownerID, err)
	}

	// Re-read for the durable seed guard. The persisted flag, not the
	// in-memory set, is the source of truth: another process may have
	// seeded since this one last ran.
	profile, err = i.remote.Profile(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to re-read profile for %s: %w", ownerID, err)
	}

	if !profile.HasSeededDefaults {
		if err := i.seed(ctx, ownerID); err != nil {
			return err
		}
	}

	i.mu.Lock()
	i.done[ownerID] = struct{}{}
	i.mu.Unlock()
	return nil
}

// seed writes the factory categories and flips the persisted flag in one
// atomic batch. Partial seeding is never observable.
func (i *Initializer) seed(ctx context.Context, ownerID string) error {
	i.logger.Printf("Seeding factory categories for %s", ownerID)

	cats := model.FactoryCategories()
	now := time.Now().UTC()
	for idx := range cats {
		cats[idx].ID = model.NewID()
		cats[idx].CreatedAt = now
		cats[idx].UpdatedAt = now
	}

	if err := i.remote.CommitSeed(ctx, ownerID, cats); err != nil {
		return fmt.Errorf("failed to seed categories for %s: %w", ownerID, err)
	}

	i.logger.Printf("Seeded %d factory categories for %s", len(cats), ownerID)
	return nil
}
