package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/auth"
	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
	"github.com/mschirtzinger/fintrack/internal/settings"
	"github.com/mschirtzinger/fintrack/internal/store"
	"github.com/mschirtzinger/fintrack/internal/syncer"
)

type harness struct {
	engine   *Engine
	db       *store.DB
	mem      *remote.Memory
	provider *auth.StaticProvider
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "fintrack.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem := remote.NewMemory()
	provider := auth.NewStaticProvider("owner-1", "a@b.c")
	sets := settings.NewStore(filepath.Join(dir, "settings.json"), nil)
	t.Cleanup(func() { sets.Close() })

	e := New(db, mem, provider, sets, Config{
		LegacyBlobPath: filepath.Join(dir, "fintrack_data.json"),
	}, nil)
	t.Cleanup(e.Close)

	return &harness{engine: e, db: db, mem: mem, provider: provider, dir: dir}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if status := h.engine.Auth().WaitReady(context.Background()); status != auth.StatusAuthenticated {
		t.Fatalf("WaitReady() = %s, want authenticated", status)
	}
}

func (h *harness) waitDrained(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		pending, err := h.db.PendingEntries(context.Background(), "owner-1")
		if err != nil {
			t.Fatalf("PendingEntries() failed: %v", err)
		}
		if len(pending) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("pending queue never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestEngine_SignedOutRejectsWrites tests the signed-out guard
func TestEngine_SignedOutRejectsWrites(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{})
	if err == nil {
		t.Error("SaveEntry() before Start succeeded, want error")
	}
	if _, err := h.engine.Entries(context.Background()); err == nil {
		t.Error("Entries() before Start succeeded, want error")
	}
	if h.engine.SyncStatus() != syncer.StatusOffline {
		t.Errorf("SyncStatus() = %s while signed out, want offline", h.engine.SyncStatus())
	}
}

// TestEngine_StartBootstrapsAccount tests that sign-in seeds the remote profile
func TestEngine_StartBootstrapsAccount(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	profile, err := h.mem.Profile(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Profile() failed: %v", err)
	}
	if !profile.HasSeededDefaults {
		t.Error("HasSeededDefaults = false after sign-in, want true")
	}

	// The seeded categories flow back into the local store via live merge.
	cats, err := h.engine.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories() failed: %v", err)
	}
	if len(cats) != len(model.FactoryCategories()) {
		t.Errorf("local categories = %d, want %d seeded", len(cats), len(model.FactoryCategories()))
	}
	for _, env := range cats {
		if env.Status != model.StatusSynced {
			t.Errorf("seeded category %s status = %q, want synced", env.Category.ID, env.Status)
		}
	}
}

// TestEngine_SaveEntrySyncs tests the local-first write path end to end
func TestEngine_SaveEntrySyncs(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	saved, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{
		Amount:     decimal.NewFromInt(250),
		Kind:       model.KindExpense,
		OccurredAt: time.Now().UTC(),
		Note:       "lunch",
	})
	if err != nil {
		t.Fatalf("SaveEntry() failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("SaveEntry() did not assign an id")
	}

	h.waitDrained(t)

	env, err := h.db.Entry(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Entry() failed: %v", err)
	}
	if env.Status != model.StatusSynced {
		t.Errorf("entry status after drain = %q, want synced", env.Status)
	}
	if h.engine.SyncStatus() != syncer.StatusSynced {
		t.Errorf("SyncStatus() = %s, want synced", h.engine.SyncStatus())
	}
}

// TestEngine_OfflineWritesStayPending tests offline capture and later drain
func TestEngine_OfflineWritesStayPending(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.waitDrained(t)

	h.mem.SetOnline(false)
	saved, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{
		Amount:     decimal.NewFromInt(99),
		Kind:       model.KindExpense,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveEntry() offline failed: %v", err)
	}

	// The write is durable locally even though upload failed.
	deadline := time.After(5 * time.Second)
	for h.engine.SyncStatus() != syncer.StatusOffline {
		select {
		case <-deadline:
			t.Fatal("SyncStatus() never went offline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	env, err := h.db.Entry(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Entry() failed: %v", err)
	}
	if env.Status != model.StatusPending {
		t.Errorf("entry status while offline = %q, want pending", env.Status)
	}

	// Connectivity restored: a kick drains the backlog.
	h.mem.SetOnline(true)
	h.engine.Kick()
	h.waitDrained(t)
}

// TestEngine_DeleteEntry tests local-immediate delete with remote follow-up
func TestEngine_DeleteEntry(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	saved, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{
		Amount:     decimal.NewFromInt(10),
		Kind:       model.KindExpense,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveEntry() failed: %v", err)
	}
	h.waitDrained(t)

	if err := h.engine.DeleteEntry(context.Background(), saved.ID); err != nil {
		t.Fatalf("DeleteEntry() failed: %v", err)
	}

	entries, err := h.engine.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	for _, env := range entries {
		if env.Entry.ID == saved.ID {
			t.Error("deleted entry still present locally")
		}
	}
}

// TestEngine_LegacyMigrationOnFirstRead tests the blob replay trigger
func TestEngine_LegacyMigrationOnFirstRead(t *testing.T) {
	h := newHarness(t)

	// An account that predates the keyed store already has its defaults;
	// without this the seeded categories would populate the collections
	// and correctly suppress the migration.
	err := h.mem.PutProfile(context.Background(), model.AccountProfile{
		OwnerID:           "owner-1",
		Email:             "a@b.c",
		HasSeededDefaults: true,
	})
	if err != nil {
		t.Fatalf("PutProfile() failed: %v", err)
	}

	blob := `{
	  "transactions": [
	    {"id": "tx-1", "amount": 100, "type": "expense", "categoryId": "cat-1", "date": "2024-03-15T10:30:00Z"}
	  ],
	  "categories": []
	}`
	blobPath := filepath.Join(h.dir, "fintrack_data.json")
	if err := os.WriteFile(blobPath, []byte(blob), 0600); err != nil {
		t.Fatalf("Failed to write legacy blob: %v", err)
	}

	h.start(t)

	entries, err := h.engine.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	found := false
	for _, env := range entries {
		if env.Entry.ID == "tx-1" {
			found = true
		}
	}
	if !found {
		t.Error("legacy transaction missing after first read")
	}
	if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
		t.Errorf("legacy blob still exists after migration: %v", err)
	}

	// Migrated records drain upstream like any other pending write.
	h.waitDrained(t)
}

// TestEngine_SignOutDetaches tests the teardown chain on sign-out
func TestEngine_SignOutDetaches(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.waitDrained(t)

	if err := h.provider.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() failed: %v", err)
	}

	if h.engine.Auth().Status() != auth.StatusUnauthenticated {
		t.Errorf("Status() = %s after sign-out, want unauthenticated", h.engine.Auth().Status())
	}
	if _, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{}); err == nil {
		t.Error("SaveEntry() after sign-out succeeded, want error")
	}
	if h.engine.SyncStatus() != syncer.StatusOffline {
		t.Errorf("SyncStatus() = %s after sign-out, want offline", h.engine.SyncStatus())
	}
}

// TestEngine_Settings tests the preference passthrough
func TestEngine_Settings(t *testing.T) {
	h := newHarness(t)

	got, err := h.engine.Settings()
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if got.Currency != "INR" {
		t.Errorf("default Currency = %q, want 'INR'", got.Currency)
	}

	got.Currency = "USD"
	got.HasCompletedOnboarding = true
	if err := h.engine.UpdateSettings(got); err != nil {
		t.Fatalf("UpdateSettings() failed: %v", err)
	}

	reloaded, err := h.engine.Settings()
	if err != nil {
		t.Fatalf("Settings() reload failed: %v", err)
	}
	if reloaded.Currency != "USD" || !reloaded.HasCompletedOnboarding {
		t.Errorf("reloaded settings = %+v, want USD/onboarded", reloaded)
	}

	// A currency outside the offered set is rejected before persisting.
	reloaded.Currency = "BTC"
	if err := h.engine.UpdateSettings(reloaded); err == nil {
		t.Error("UpdateSettings() accepted an unknown currency, want error")
	}
	final, err := h.engine.Settings()
	if err != nil {
		t.Fatalf("Settings() reload failed: %v", err)
	}
	if final.Currency != "USD" {
		t.Errorf("Currency = %q after rejected update, want 'USD'", final.Currency)
	}
}

// TestEngine_ClearAll tests the full local reset
func TestEngine_ClearAll(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, err := h.engine.SaveEntry(context.Background(), model.LedgerEntry{
		Amount:     decimal.NewFromInt(10),
		Kind:       model.KindExpense,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveEntry() failed: %v", err)
	}
	h.waitDrained(t)

	if err := h.engine.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	entries, err := h.db.Entries(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("local entries after ClearAll = %d, want 0", len(entries))
	}

	// Remote documents are untouched by a local reset.
	profile, err := h.mem.Profile(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Profile() failed: %v", err)
	}
	if profile == nil {
		t.Error("remote profile gone after local ClearAll")
	}
}
