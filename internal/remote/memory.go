package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// Memory is an in-memory Store implementation.
//
// It backs the offline dev harness and the engine's tests: documents live in
// per-owner maps, the "server clock" is time.Now, and subscribers receive
// snapshots in commit order. SetOnline(false) makes every write fail with
// ErrUnavailable, simulating lost connectivity.
type Memory struct {
	mu       sync.Mutex
	online   bool
	now      func() time.Time
	entries  map[string]map[string]model.LedgerEntry // ownerID -> id -> entry
	cats     map[string]map[string]model.Category
	profiles map[string]model.AccountProfile

	entrySubs map[string]map[int]func(EntrySnapshot)
	catSubs   map[string]map[int]func(CategorySnapshot)
	nextSub   int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store, initially online.
func NewMemory() *Memory {
	return &Memory{
		online:    true,
		now:       time.Now,
		entries:   make(map[string]map[string]model.LedgerEntry),
		cats:      make(map[string]map[string]model.Category),
		profiles:  make(map[string]model.AccountProfile),
		entrySubs: make(map[string]map[int]func(EntrySnapshot)),
		catSubs:   make(map[string]map[int]func(CategorySnapshot)),
	}
}

// SetOnline toggles simulated connectivity. While offline every write
// returns ErrUnavailable; subscriptions stay attached.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// SetClock overrides the server clock. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// UpsertEntry implements Store.UpsertEntry.
func (m *Memory) UpsertEntry(ctx context.Context, ownerID string, e model.LedgerEntry) (model.LedgerEntry, error) {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return model.LedgerEntry{}, ErrUnavailable
	}

	if e.ID == "" {
		e.ID = model.NewID()
	}
	if existing, ok := m.entries[ownerID][e.ID]; ok && !existing.CreatedAt.IsZero() {
		e.CreatedAt = existing.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	// Server clock is the authority the last-write-wins rule relies on.
	e.UpdatedAt = m.now().UTC()

	if m.entries[ownerID] == nil {
		m.entries[ownerID] = make(map[string]model.LedgerEntry)
	}
	m.entries[ownerID][e.ID] = e

	snap := EntrySnapshot{Entries: m.entriesLocked(ownerID)}
	subs := m.entrySubsLocked(ownerID)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return e, nil
}

// UpsertCategory implements Store.UpsertCategory.
func (m *Memory) UpsertCategory(ctx context.Context, ownerID string, c model.Category) (model.Category, error) {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return model.Category{}, ErrUnavailable
	}

	if c.ID == "" {
		c.ID = model.NewID()
	}
	if existing, ok := m.cats[ownerID][c.ID]; ok && !existing.CreatedAt.IsZero() {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	c.UpdatedAt = m.now().UTC()

	if m.cats[ownerID] == nil {
		m.cats[ownerID] = make(map[string]model.Category)
	}
	m.cats[ownerID][c.ID] = c

	snap := CategorySnapshot{Categories: m.catsLocked(ownerID)}
	subs := m.catSubsLocked(ownerID)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return c, nil
}

// DeleteEntry implements Store.DeleteEntry.
func (m *Memory) DeleteEntry(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrUnavailable
	}
	delete(m.entries[ownerID], id)

	snap := EntrySnapshot{Entries: m.entriesLocked(ownerID)}
	subs := m.entrySubsLocked(ownerID)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// DeleteCategory implements Store.DeleteCategory.
func (m *Memory) DeleteCategory(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrUnavailable
	}
	delete(m.cats[ownerID], id)

	snap := CategorySnapshot{Categories: m.catsLocked(ownerID)}
	subs := m.catSubsLocked(ownerID)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// SubscribeEntries implements Store.SubscribeEntries. The subscriber first
// receives a cache-origin snapshot of the current documents, then a
// server-confirmed one, mirroring the cache-then-server delivery of the
// production backend.
func (m *Memory) SubscribeEntries(ctx context.Context, ownerID string, fn func(EntrySnapshot)) (Unsubscribe, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.entrySubs[ownerID] == nil {
		m.entrySubs[ownerID] = make(map[int]func(EntrySnapshot))
	}
	m.entrySubs[ownerID][id] = fn
	initial := m.entriesLocked(ownerID)
	m.mu.Unlock()

	fn(EntrySnapshot{Entries: initial, FromCache: true})
	fn(EntrySnapshot{Entries: initial})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.entrySubs[ownerID], id)
	}, nil
}

// SubscribeCategories implements Store.SubscribeCategories.
func (m *Memory) SubscribeCategories(ctx context.Context, ownerID string, fn func(CategorySnapshot)) (Unsubscribe, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.catSubs[ownerID] == nil {
		m.catSubs[ownerID] = make(map[int]func(CategorySnapshot))
	}
	m.catSubs[ownerID][id] = fn
	initial := m.catsLocked(ownerID)
	m.mu.Unlock()

	fn(CategorySnapshot{Categories: initial, FromCache: true})
	fn(CategorySnapshot{Categories: initial})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.catSubs[ownerID], id)
	}, nil
}

// Profile implements Store.Profile.
func (m *Memory) Profile(ctx context.Context, ownerID string) (*model.AccountProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, ErrUnavailable
	}
	p, ok := m.profiles[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// PutProfile implements Store.PutProfile.
func (m *Memory) PutProfile(ctx context.Context, profile model.AccountProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return ErrUnavailable
	}
	now := m.now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	m.profiles[profile.OwnerID] = profile
	return nil
}

// CommitSeed implements Store.CommitSeed. Categories and the flag flip
// land together or not at all.
func (m *Memory) CommitSeed(ctx context.Context, ownerID string, cats []model.Category) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrUnavailable
	}
	profile, ok := m.profiles[ownerID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}

	now := m.now().UTC()
	if m.cats[ownerID] == nil {
		m.cats[ownerID] = make(map[string]model.Category)
	}
	for _, c := range cats {
		if c.ID == "" {
			c.ID = model.NewID()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		m.cats[ownerID][c.ID] = c
	}
	profile.HasSeededDefaults = true
	profile.UpdatedAt = now
	m.profiles[ownerID] = profile

	snap := CategorySnapshot{Categories: m.catsLocked(ownerID)}
	subs := m.catSubsLocked(ownerID)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// entriesLocked returns the owner's entries ordered by creation time
// descending. Caller must hold m.mu.
func (m *Memory) entriesLocked(ownerID string) []model.LedgerEntry {
	out := make([]model.LedgerEntry, 0, len(m.entries[ownerID]))
	for _, e := range m.entries[ownerID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) catsLocked(ownerID string) []model.Category {
	out := make([]model.Category, 0, len(m.cats[ownerID]))
	for _, c := range m.cats[ownerID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) entrySubsLocked(ownerID string) []func(EntrySnapshot) {
	out := make([]func(EntrySnapshot), 0, len(m.entrySubs[ownerID]))
	for _, fn := range m.entrySubs[ownerID] {
		out = append(out, fn)
	}
	return out
}

func (m *Memory) catSubsLocked(ownerID string) []func(CategorySnapshot) {
	out := make([]func(CategorySnapshot), 0, len(m.catSubs[ownerID]))
	for _, fn := range m.catSubs[ownerID] {
		out = append(out, fn)
	}
	return out
}
