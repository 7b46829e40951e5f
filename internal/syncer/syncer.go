// Package syncer drains the local store's pending queue into the remote
// document store.
//
// The coordinator is a session-scoped object bound to one owner. It
// guarantees at most one concurrent drain pass per process: re-entrant
// triggers while a pass is running are ignored, not queued — a fresh
// trigger after completion starts a new pass that naturally picks up
// anything still pending.
package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mschirtzinger/fintrack/internal/model"
	"github.com/mschirtzinger/fintrack/internal/remote"
)

// PendingStore is the slice of the local store the coordinator needs.
type PendingStore interface {
	PendingEntries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error)
	PendingCategories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error)
	MarkEntrySynced(ctx context.Context, id string) error
	MarkCategorySynced(ctx context.Context, id string) error
}

// Status is the coarse connectivity indicator derived from pass outcomes.
type Status int

const (
	// StatusSynced means the last pass drained without transport failures.
	StatusSynced Status = iota
	// StatusOffline means the last pass hit transport failures; records
	// remain pending until the next trigger.
	StatusOffline
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	if s == StatusOffline {
		return "offline"
	}
	return "synced"
}

// Coordinator uploads pending records for one owner.
type Coordinator struct {
	store   PendingStore
	remote  remote.Store
	ownerID string
	logger  *log.Logger

	// busy is the re-entrancy guard. It protects solely against
	// overlapping coordinator passes, not against direct store writes
	// happening elsewhere at the same time.
	busy atomic.Bool

	status atomic.Int32

	kick chan struct{}
	wg   sync.WaitGroup
}

// New creates a Coordinator for the given owner.
// If logger is nil, a default logger writing to stderr is used.
func New(store PendingStore, rs remote.Store, ownerID string, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Coordinator{
		store:   store,
		remote:  rs,
		ownerID: ownerID,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Status returns the connectivity indicator from the most recent pass.
func (c *Coordinator) Status() Status {
	return Status(c.status.Load())
}

// Kick requests a drain pass without blocking. Call it after every local
// write and on connectivity-restored events. Kicks arriving while a pass
// is queued or running coalesce.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Start launches the trigger loop on its own goroutine. The waitgroup is
// registered here, before the goroutine exists, so a cancel followed by
// an immediate Wait cannot slip past a loop that has not begun running.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// run processes triggers until the context is done. A pass runs
// immediately on start (session-start trigger), then once per kick.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	c.Sync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			c.Sync(ctx)
		}
	}
}

// Wait blocks until the trigger loop has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Sync performs one drain pass. Returns false when a pass was already
// running and this trigger was ignored.
//
// Within a pass, pending ledger entries are fully attempted before
// categories; there is no ordering guarantee between records of the same
// kind. A per-record failure leaves the record pending and the pass
// continues — no retry counts, no backoff, no dead-letter. A pass with
// nothing pending completes immediately as a no-op.
func (c *Coordinator) Sync(ctx context.Context) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	defer c.busy.Store(false)

	failures := 0
	failures += c.drainEntries(ctx)
	failures += c.drainCategories(ctx)

	if failures > 0 {
		c.status.Store(int32(StatusOffline))
	} else {
		c.status.Store(int32(StatusSynced))
	}
	return true
}

func (c *Coordinator) drainEntries(ctx context.Context) int {
	pending, err := c.store.PendingEntries(ctx, c.ownerID)
	if err != nil {
		c.logger.Printf("WARNING: failed to read pending entries: %v", err)
		return 1
	}
	if len(pending) == 0 {
		return 0
	}

	c.logger.Printf("Draining %d pending entries", len(pending))
	failures := 0
	for _, env := range pending {
		if _, err := c.remote.UpsertEntry(ctx, c.ownerID, env.Entry); err != nil {
			// Transient by policy: stays pending until the next trigger.
			c.logger.Printf("WARNING: failed to upload entry %s, will retry later: %v", env.Entry.ID, err)
			failures++
			continue
		}
		if err := c.store.MarkEntrySynced(ctx, env.Entry.ID); err != nil {
			c.logger.Printf("WARNING: failed to mark entry %s synced: %v", env.Entry.ID, err)
			failures++
		}
	}
	return failures
}

func (c *Coordinator) drainCategories(ctx context.Context) int {
	pending, err := c.store.PendingCategories(ctx, c.ownerID)
	if err != nil {
		c.logger.Printf("WARNING: failed to read pending categories: %v", err)
		return 1
	}
	if len(pending) == 0 {
		return 0
	}

	c.logger.Printf("Draining %d pending categories", len(pending))
	failures := 0
	for _, env := range pending {
		if _, err := c.remote.UpsertCategory(ctx, c.ownerID, env.Category); err != nil {
			c.logger.Printf("WARNING: failed to upload category %s, will retry later: %v", env.Category.ID, err)
			failures++
			continue
		}
		if err := c.store.MarkCategorySynced(ctx, env.Category.ID); err != nil {
			c.logger.Printf("WARNING: failed to mark category %s synced: %v", env.Category.ID, err)
			failures++
		}
	}
	return failures
}
