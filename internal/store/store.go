// Package store provides the durable local cache for the fintrack sync engine.
//
// The store is an embedded SQLite database holding two keyed collections
// (ledger entries and categories), each partitioned by owner id and tagged
// with a sync status. Records written locally start pending; the sync
// coordinator flips them to synced after the remote store acknowledges.
//
// The schema is version-numbered via PRAGMA user_version and upgraded in
// place on open. Upgrades are backward-compatible: rows created before the
// owner index existed remain queryable, and a failed upgrade leaves the
// store on its prior usable shape.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schemaVersion is the current PRAGMA user_version.
//
//	v1: entries + categories tables, keyed by id
//	v2: owner_id secondary indexes
const schemaVersion = 2

// DB is the SQLite-backed Store implementation.
type DB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

var _ Store = (*DB)(nil)

// Open creates or opens the database at path and upgrades its schema.
//
// The database runs in WAL mode with a busy timeout for concurrent reads.
// If logger is nil, a default logger writing to stderr is used.
// The caller must Close the returned DB.
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := db.upgrade(context.Background()); err != nil {
		// A failed upgrade is not fatal to the store itself: the prior
		// shape stays usable, only indexed queries may degrade.
		db.logger.Printf("WARNING: schema upgrade failed: %v", err)
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// upgrade walks the store from its recorded version to schemaVersion.
// Each step commits its version bump atomically with its DDL, so an
// interrupted upgrade resumes from the last completed step.
func (db *DB) upgrade(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < 1 {
		if err := db.applyStep(ctx, 1, `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			kind TEXT NOT NULL,
			category_id TEXT,
			occurred_at TEXT NOT NULL,
			note TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending'
		);

		CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			icon TEXT,
			color TEXT,
			kind TEXT NOT NULL,
			is_factory INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending'
		);
		`); err != nil {
			return err
		}
		version = 1
	}

	if version < 2 {
		if err := db.applyStep(ctx, 2, `
		CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id);
		CREATE INDEX IF NOT EXISTS idx_entries_owner_status ON entries(owner_id, sync_status);
		CREATE INDEX IF NOT EXISTS idx_categories_owner ON categories(owner_id);
		CREATE INDEX IF NOT EXISTS idx_categories_owner_status ON categories(owner_id, sync_status);
		`); err != nil {
			return err
		}
		version = 2
	}

	return nil
}

// applyStep runs one upgrade step and its version bump in a single transaction.
func (db *DB) applyStep(ctx context.Context, to int, ddl string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upgrade to v%d: %w", to, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to upgrade schema to v%d: %w", to, err)
	}
	// PRAGMA does not support placeholders.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", to)); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", to, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upgrade to v%d: %w", to, err)
	}

	db.logger.Printf("Schema upgraded to v%d", to)
	return nil
}

const upsertEntrySQL = `
INSERT INTO entries (
	id, owner_id, amount, kind, category_id, occurred_at, note,
	created_at, updated_at, sync_status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	owner_id = excluded.owner_id,
	amount = excluded.amount,
	kind = excluded.kind,
	category_id = excluded.category_id,
	occurred_at = excluded.occurred_at,
	note = excluded.note,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	sync_status = excluded.sync_status
`

const upsertCategorySQL = `
INSERT INTO categories (
	id, owner_id, name, icon, color, kind, is_factory,
	created_at, updated_at, sync_status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	owner_id = excluded.owner_id,
	name = excluded.name,
	icon = excluded.icon,
	color = excluded.color,
	kind = excluded.kind,
	is_factory = excluded.is_factory,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	sync_status = excluded.sync_status
`

// PutEntry implements Store.PutEntry.
func (db *DB) PutEntry(ctx context.Context, env model.EntryEnvelope) error {
	if err := env.Entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}
	if env.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	_, err := db.conn.ExecContext(ctx, upsertEntrySQL, entryArgs(env)...)
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", env.Entry.ID, err)
	}
	return nil
}

// PutCategory implements Store.PutCategory.
func (db *DB) PutCategory(ctx context.Context, env model.CategoryEnvelope) error {
	if err := env.Category.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}
	if env.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	_, err := db.conn.ExecContext(ctx, upsertCategorySQL, categoryArgs(env)...)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", env.Category.ID, err)
	}
	return nil
}

func entryArgs(env model.EntryEnvelope) []interface{} {
	e := env.Entry
	return []interface{}{
		e.ID,
		env.OwnerID,
		e.Amount.String(),
		string(e.Kind),
		e.CategoryID,
		e.OccurredAt.UTC().Format(time.RFC3339),
		e.Note,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.UpdatedAt.UTC().Format(time.RFC3339),
		string(env.Status),
	}
}

func categoryArgs(env model.CategoryEnvelope) []interface{} {
	c := env.Category
	factory := 0
	if c.IsFactoryDefault {
		factory = 1
	}
	return []interface{}{
		c.ID,
		env.OwnerID,
		c.Name,
		c.Icon,
		c.Color,
		string(c.Kind),
		factory,
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
		string(env.Status),
	}
}

const selectEntrySQL = `
SELECT id, owner_id, amount, kind, category_id, occurred_at, note,
       created_at, updated_at, sync_status
FROM entries
`

const selectCategorySQL = `
SELECT id, owner_id, name, icon, color, kind, is_factory,
       created_at, updated_at, sync_status
FROM categories
`

// Entries implements Store.Entries.
func (db *DB) Entries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectEntrySQL+"WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PendingEntries implements Store.PendingEntries. This is a filter over the
// owner-scoped read, not a separate index: local collections stay small.
func (db *DB) PendingEntries(ctx context.Context, ownerID string) ([]model.EntryEnvelope, error) {
	all, err := db.Entries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var pending []model.EntryEnvelope
	for _, env := range all {
		if env.Status == model.StatusPending {
			pending = append(pending, env)
		}
	}
	return pending, nil
}

// Categories implements Store.Categories.
func (db *DB) Categories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectCategorySQL+"WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	return scanCategories(rows)
}

// PendingCategories implements Store.PendingCategories.
func (db *DB) PendingCategories(ctx context.Context, ownerID string) ([]model.CategoryEnvelope, error) {
	all, err := db.Categories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var pending []model.CategoryEnvelope
	for _, env := range all {
		if env.Status == model.StatusPending {
			pending = append(pending, env)
		}
	}
	return pending, nil
}

// Entry returns a single entry envelope by id.
// Returns sql.ErrNoRows if the record is not found.
func (db *DB) Entry(ctx context.Context, id string) (*model.EntryEnvelope, error) {
	rows, err := db.conn.QueryContext(ctx, selectEntrySQL+"WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %s: %w", id, err)
	}
	defer rows.Close()

	envs, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &envs[0], nil
}

// Category returns a single category envelope by id.
// Returns sql.ErrNoRows if the record is not found.
func (db *DB) Category(ctx context.Context, id string) (*model.CategoryEnvelope, error) {
	rows, err := db.conn.QueryContext(ctx, selectCategorySQL+"WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query category %s: %w", id, err)
	}
	defer rows.Close()

	envs, err := scanCategories(rows)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &envs[0], nil
}

// DeleteEntry implements Store.DeleteEntry. Idempotent.
func (db *DB) DeleteEntry(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return nil
}

// DeleteCategory implements Store.DeleteCategory. Idempotent; entries
// referencing the category are left untouched.
func (db *DB) DeleteCategory(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete category %s: %w", id, err)
	}
	return nil
}

// MarkEntrySynced implements Store.MarkEntrySynced.
func (db *DB) MarkEntrySynced(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE entries SET sync_status = ? WHERE id = ?", string(model.StatusSynced), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s synced: %w", id, err)
	}
	return nil
}

// MarkCategorySynced implements Store.MarkCategorySynced.
func (db *DB) MarkCategorySynced(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE categories SET sync_status = ? WHERE id = ?", string(model.StatusSynced), id)
	if err != nil {
		return fmt.Errorf("failed to mark category %s synced: %w", id, err)
	}
	return nil
}

// BulkPutEntries implements Store.BulkPutEntries.
// All writes commit in one transaction or none do.
func (db *DB) BulkPutEntries(ctx context.Context, envs []model.EntryEnvelope) error {
	if len(envs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bulk entry write: %w", err)
	}
	defer tx.Rollback()

	for _, env := range envs {
		if err := env.Entry.Validate(); err != nil {
			return fmt.Errorf("invalid entry %s in bulk write: %w", env.Entry.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertEntrySQL, entryArgs(env)...); err != nil {
			return fmt.Errorf("failed to bulk-write entry %s: %w", env.Entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk entry write: %w", err)
	}
	return nil
}

// BulkPutCategories implements Store.BulkPutCategories.
func (db *DB) BulkPutCategories(ctx context.Context, envs []model.CategoryEnvelope) error {
	if len(envs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bulk category write: %w", err)
	}
	defer tx.Rollback()

	for _, env := range envs {
		if err := env.Category.Validate(); err != nil {
			return fmt.Errorf("invalid category %s in bulk write: %w", env.Category.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertCategorySQL, categoryArgs(env)...); err != nil {
			return fmt.Errorf("failed to bulk-write category %s: %w", env.Category.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk category write: %w", err)
	}
	return nil
}

// Clear implements Store.Clear. Both collections are wiped in one transaction.
func (db *DB) Clear(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM categories"); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]model.EntryEnvelope, error) {
	var envs []model.EntryEnvelope

	for rows.Next() {
		var (
			env                            model.EntryEnvelope
			amount, kind, status           string
			occurredAt, createdAt, updated string
			categoryID, note               sql.NullString
		)

		err := rows.Scan(
			&env.Entry.ID,
			&env.OwnerID,
			&amount,
			&kind,
			&categoryID,
			&occurredAt,
			&note,
			&createdAt,
			&updated,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		env.Entry.Amount = dec
		env.Entry.Kind = model.Kind(kind)
		env.Entry.CategoryID = categoryID.String
		env.Entry.Note = note.String
		env.Entry.OccurredAt = parseTime(occurredAt)
		env.Entry.CreatedAt = parseTime(createdAt)
		env.Entry.UpdatedAt = parseTime(updated)
		env.Status = model.SyncStatus(status)

		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return envs, nil
}

func scanCategories(rows *sql.Rows) ([]model.CategoryEnvelope, error) {
	var envs []model.CategoryEnvelope

	for rows.Next() {
		var (
			env                 model.CategoryEnvelope
			kind, status        string
			createdAt, updated  string
			icon, color         sql.NullString
			factory             int
		)

		err := rows.Scan(
			&env.Category.ID,
			&env.OwnerID,
			&env.Category.Name,
			&icon,
			&color,
			&kind,
			&factory,
			&createdAt,
			&updated,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}

		env.Category.Icon = icon.String
		env.Category.Color = color.String
		env.Category.Kind = model.Kind(kind)
		env.Category.IsFactoryDefault = factory != 0
		env.Category.CreatedAt = parseTime(createdAt)
		env.Category.UpdatedAt = parseTime(updated)
		env.Status = model.SyncStatus(status)

		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return envs, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
