package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/store"
)

const legacyFixture = `{
  "transactions": [
    {"id": "tx-1", "amount": 250.50, "type": "expense", "categoryId": "cat-1", "date": "2024-03-15T10:30:00Z", "notes": "groceries", "lastUpdated": 1710498600000},
    {"id": "tx-2", "amount": 50000, "type": "income", "categoryId": "cat-2", "date": "2024-03-01"},
    {"id": "tx-3", "amount": 120, "type": "expense", "categoryId": "cat-1", "date": "2024-03-20T08:00:00Z"}
  ],
  "categories": [
    {"id": "cat-1", "name": "Food", "icon": "utensils", "color": "#ef4444", "type": "expense", "isDefault": true},
    {"id": "cat-2", "name": "Salary", "icon": "banknote", "color": "#22c55e", "type": "income"}
  ]
}`

func testSetup(t *testing.T) (*store.DB, string) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobPath := filepath.Join(dir, "fintrack_data.json")
	if err := os.WriteFile(blobPath, []byte(legacyFixture), 0600); err != nil {
		t.Fatalf("Failed to write legacy blob: %v", err)
	}
	return db, blobPath
}

// TestRun_MigratesBlob tests the one-shot import into the keyed store
func TestRun_MigratesBlob(t *testing.T) {
	db, blobPath := testSetup(t)
	ctx := context.Background()

	adapter := New(db, blobPath, nil)
	if err := adapter.Run(ctx, "owner-1"); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	entries, err := db.Entries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("migrated %d entries, want 3", len(entries))
	}
	for _, env := range entries {
		if env.Status != model.StatusPending {
			t.Errorf("entry %s status = %q, want pending", env.Entry.ID, env.Status)
		}
	}

	cats, err := db.Categories(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Categories() failed: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("migrated %d categories, want 2", len(cats))
	}

	// The blob is deleted once its records live in the keyed store.
	if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
		t.Errorf("legacy blob still exists after migration: %v", err)
	}
}

// TestRun_FieldMapping tests the legacy field translation in detail
func TestRun_FieldMapping(t *testing.T) {
	db, blobPath := testSetup(t)
	ctx := context.Background()

	if err := New(db, blobPath, nil).Run(ctx, "owner-1"); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	env, err := db.Entry(ctx, "tx-1")
	if err != nil {
		t.Fatalf("Entry(tx-1) failed: %v", err)
	}
	if env.Entry.Amount.String() != "250.5" {
		t.Errorf("Amount = %s, want 250.5", env.Entry.Amount)
	}
	if env.Entry.Kind != model.KindExpense {
		t.Errorf("Kind = %q, want expense", env.Entry.Kind)
	}
	if env.Entry.CategoryID != "cat-1" {
		t.Errorf("CategoryID = %q, want 'cat-1'", env.Entry.CategoryID)
	}
	if env.Entry.Note != "groceries" {
		t.Errorf("Note = %q, want 'groceries'", env.Entry.Note)
	}

	// Bare-day dates parse through the fallback layout.
	env, err = db.Entry(ctx, "tx-2")
	if err != nil {
		t.Fatalf("Entry(tx-2) failed: %v", err)
	}
	if got := env.Entry.OccurredAt.Format("2006-01-02"); got != "2024-03-01" {
		t.Errorf("OccurredAt = %s, want 2024-03-01", got)
	}

	cat, err := db.Category(ctx, "cat-1")
	if err != nil {
		t.Fatalf("Category(cat-1) failed: %v", err)
	}
	if !cat.Category.IsFactoryDefault {
		t.Error("IsFactoryDefault = false, want true (legacy isDefault)")
	}
}

// TestRun_OneShot tests that a second run never duplicates records
func TestRun_OneShot(t *testing.T) {
	db, blobPath := testSetup(t)
	ctx := context.Background()

	adapter := New(db, blobPath, nil)
	if err := adapter.Run(ctx, "owner-1"); err != nil {
		t.Fatalf("First Run() failed: %v", err)
	}
	if err := adapter.Run(ctx, "owner-1"); err != nil {
		t.Fatalf("Second Run() failed: %v", err)
	}

	entries, err := db.Entries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("entry count after second run = %d, want 3", len(entries))
	}
}

// TestRun_NoOpWhenPopulated tests that non-empty collections skip the import
func TestRun_NoOpWhenPopulated(t *testing.T) {
	db, blobPath := testSetup(t)
	ctx := context.Background()

	existing := model.CategoryEnvelope{
		OwnerID: "owner-1",
		Status:  model.StatusSynced,
		Category: model.Category{
			ID:   "cat-existing",
			Name: "Existing",
			Kind: model.KindExpense,
		},
	}
	existing.Category.SetDefaults()
	if err := db.PutCategory(ctx, existing); err != nil {
		t.Fatalf("PutCategory() failed: %v", err)
	}

	if err := New(db, blobPath, nil).Run(ctx, "owner-1"); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	entries, err := db.Entries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("imported %d entries into a populated store, want 0", len(entries))
	}

	// The blob survives a skipped migration.
	if _, err := os.Stat(blobPath); err != nil {
		t.Errorf("legacy blob missing after skipped migration: %v", err)
	}
}

// TestRun_NoBlob tests that a missing blob is not an error
func TestRun_NoBlob(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer db.Close()

	adapter := New(db, filepath.Join(t.TempDir(), "missing.json"), nil)
	if err := adapter.Run(context.Background(), "owner-1"); err != nil {
		t.Errorf("Run() with missing blob failed: %v", err)
	}
}

// TestRun_BadBlob tests that a corrupt blob aborts without partial writes
func TestRun_BadBlob(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer db.Close()

	blobPath := filepath.Join(dir, "fintrack_data.json")
	if err := os.WriteFile(blobPath, []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to write blob: %v", err)
	}

	if err := New(db, blobPath, nil).Run(context.Background(), "owner-1"); err == nil {
		t.Error("Run() with corrupt blob succeeded, want error")
	}

	entries, err := db.Entries(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("corrupt blob wrote %d entries, want 0", len(entries))
	}
}
