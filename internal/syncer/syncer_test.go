package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
	"github.com/mschirtzinger/fintrack/internal/store"
)

func testStore(t *testing.T) *store.DB {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func putPendingEntry(t *testing.T, db *store.DB, id, ownerID string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.PutEntry(context.Background(), model.EntryEnvelope{
		OwnerID: ownerID,
		Status:  model.StatusPending,
		Entry: model.LedgerEntry{
			ID:         id,
			Amount:     decimal.NewFromInt(100),
			Kind:       model.KindExpense,
			OccurredAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	})
	if err != nil {
		t.Fatalf("PutEntry(%s) failed: %v", id, err)
	}
}

func putPendingCategory(t *testing.T, db *store.DB, id, ownerID string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.PutCategory(context.Background(), model.CategoryEnvelope{
		OwnerID: ownerID,
		Status:  model.StatusPending,
		Category: model.Category{
			ID:        id,
			Name:      "Food",
			Kind:      model.KindExpense,
			CreatedAt: now,
			UpdatedAt: now,
		},
	})
	if err != nil {
		t.Fatalf("PutCategory(%s) failed: %v", id, err)
	}
}

// TestSync_DrainsPending tests that one pass flips every pending record
func TestSync_DrainsPending(t *testing.T) {
	db := testStore(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	putPendingEntry(t, db, "e-1", "owner-1")
	putPendingEntry(t, db, "e-2", "owner-1")
	putPendingCategory(t, db, "cat-1", "owner-1")

	c := New(db, mem, "owner-1", nil)
	if !c.Sync(ctx) {
		t.Fatal("Sync() returned false, want pass to run")
	}

	pending, err := db.PendingEntries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending entries after pass = %d, want 0", len(pending))
	}

	pendingCats, err := db.PendingCategories(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingCategories() failed: %v", err)
	}
	if len(pendingCats) != 0 {
		t.Errorf("pending categories after pass = %d, want 0", len(pendingCats))
	}

	if c.Status() != StatusSynced {
		t.Errorf("Status() = %s, want synced", c.Status())
	}
}

// TestSync_Idempotent tests that a second pass with nothing pending is a no-op
func TestSync_Idempotent(t *testing.T) {
	db := testStore(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	putPendingEntry(t, db, "e-1", "owner-1")

	c := New(db, mem, "owner-1", nil)
	c.Sync(ctx)
	if !c.Sync(ctx) {
		t.Fatal("second Sync() returned false, want pass to run")
	}
	if c.Status() != StatusSynced {
		t.Errorf("Status() = %s, want synced", c.Status())
	}
}

// TestSync_OfflineLeavesPending tests that transport failures keep records pending
func TestSync_OfflineLeavesPending(t *testing.T) {
	db := testStore(t)
	mem := remote.NewMemory()
	mem.SetOnline(false)
	ctx := context.Background()

	putPendingEntry(t, db, "e-1", "owner-1")

	c := New(db, mem, "owner-1", nil)
	c.Sync(ctx)

	pending, err := db.PendingEntries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending entries after offline pass = %d, want 1", len(pending))
	}
	if c.Status() != StatusOffline {
		t.Errorf("Status() = %s, want offline", c.Status())
	}

	// Connectivity restored: the next pass retries the same record.
	mem.SetOnline(true)
	c.Sync(ctx)

	pending, err = db.PendingEntries(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingEntries() after retry failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending entries after retry = %d, want 0", len(pending))
	}
	if c.Status() != StatusSynced {
		t.Errorf("Status() = %s, want synced", c.Status())
	}
}

// blockingRemote parks the first upsert until released, to hold a pass open.
type blockingRemote struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRemote) UpsertEntry(ctx context.Context, ownerID string, e model.LedgerEntry) (model.LedgerEntry, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Memory.UpsertEntry(ctx, ownerID, e)
}

// TestSync_ReentrantTriggerIgnored tests that a trigger during a pass is dropped
func TestSync_ReentrantTriggerIgnored(t *testing.T) {
	db := testStore(t)
	blocking := &blockingRemote{
		Memory:  remote.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctx := context.Background()

	putPendingEntry(t, db, "e-1", "owner-1")

	c := New(db, blocking, "owner-1", nil)

	done := make(chan bool, 1)
	go func() {
		done <- c.Sync(ctx)
	}()

	// Wait until the pass is inside the remote call, then trigger again.
	<-blocking.entered
	if c.Sync(ctx) {
		t.Error("re-entrant Sync() returned true, want false (ignored)")
	}
	close(blocking.release)

	if !<-done {
		t.Error("first Sync() returned false, want true")
	}
}

// TestStart_KickCoalesces tests the trigger loop end to end
func TestStart_KickCoalesces(t *testing.T) {
	db := testStore(t)
	mem := remote.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	putPendingEntry(t, db, "e-1", "owner-1")

	c := New(db, mem, "owner-1", nil)
	c.Start(ctx)

	// Redundant kicks must coalesce instead of blocking the caller.
	c.Kick()
	c.Kick()
	c.Kick()

	deadline := time.After(5 * time.Second)
	for {
		pending, err := db.PendingEntries(context.Background(), "owner-1")
		if err != nil {
			t.Fatalf("PendingEntries() failed: %v", err)
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pending queue never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	c.Wait()
}

// TestWait_ObservesInFlightPass tests that cancelling immediately after Start
// and calling Wait blocks until the running pass finishes, so teardown never
// races a pass against a closed store
func TestWait_ObservesInFlightPass(t *testing.T) {
	db := testStore(t)
	blocking := &blockingRemote{
		Memory:  remote.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())

	putPendingEntry(t, db, "e-1", "owner-1")

	c := New(db, blocking, "owner-1", nil)
	c.Start(ctx)

	// The session-start pass is parked inside the remote call.
	<-blocking.entered
	cancel()

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait() returned while a pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() never returned after the pass finished")
	}
}
