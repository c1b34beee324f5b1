// Package sqlite implements the local store contract on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"example.com/packsync/internal/domain"
	"example.com/packsync/internal/store"
)

const currentVersion = 1

// Store is a SQLite-backed implementation of store.Store and
// store.Settings.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS activities (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		last_packed_at INTEGER NOT NULL DEFAULT 0,
		run_count      INTEGER NOT NULL DEFAULT 0,
		is_shared      INTEGER NOT NULL DEFAULT 0,
		is_archived    INTEGER NOT NULL DEFAULT 0,
		is_finished    INTEGER NOT NULL DEFAULT 0,
		is_recurring   INTEGER NOT NULL DEFAULT 0,
		modified_at    INTEGER NOT NULL DEFAULT 0,
		deleted_at     INTEGER
	);

	CREATE TABLE IF NOT EXISTS items (
		id          TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		is_packed   INTEGER NOT NULL DEFAULT 0,
		category    TEXT NOT NULL DEFAULT '',
		notes       TEXT NOT NULL DEFAULT '',
		sort_order  INTEGER NOT NULL DEFAULT 0,
		modified_at INTEGER NOT NULL DEFAULT 0,
		deleted_at  INTEGER,
		seq         INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_items_activity ON items(activity_id);

	-- History is append-only and not deduplicated by id. The surrogate
	-- seq key allows replayed downloads to insert the same entry twice.
	CREATE TABLE IF NOT EXISTS history_entries (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL,
		activity_id      TEXT NOT NULL,
		start_time       INTEGER NOT NULL,
		end_time         INTEGER NOT NULL,
		completed_date   INTEGER NOT NULL,
		total_items      INTEGER NOT NULL,
		packed_items     INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_activity ON history_entries(activity_id);
	CREATE INDEX IF NOT EXISTS idx_history_completed ON history_entries(completed_date);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// Activities lists all local activities, including tombstones, so the
// sync payload builder sees everything the device knows about.
func (s *Store) Activities(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT id, name, last_packed_at, run_count, is_shared, is_archived, is_finished, is_recurring, modified_at, deleted_at
		FROM activities ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, rows.Err()
}

// Activity fetches one activity by id.
func (s *Store) Activity(ctx context.Context, id string) (domain.Activity, error) {
	const query = `SELECT id, name, last_packed_at, run_count, is_shared, is_archived, is_finished, is_recurring, modified_at, deleted_at
		FROM activities WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	activity, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Activity{}, store.ErrNotFound
	}
	return activity, err
}

// PutActivity inserts or fully replaces the activity by id.
func (s *Store) PutActivity(ctx context.Context, activity domain.Activity) error {
	const stmt = `INSERT INTO activities (id, name, last_packed_at, run_count, is_shared, is_archived, is_finished, is_recurring, modified_at, deleted_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, last_packed_at=excluded.last_packed_at,
			run_count=excluded.run_count, is_shared=excluded.is_shared,
			is_archived=excluded.is_archived, is_finished=excluded.is_finished,
			is_recurring=excluded.is_recurring, modified_at=excluded.modified_at,
			deleted_at=excluded.deleted_at`

	_, err := s.db.ExecContext(ctx, stmt,
		activity.ID,
		activity.Name,
		activity.LastPackedAt.UTC().UnixNano(),
		activity.RunCount,
		boolToInt(activity.IsShared),
		boolToInt(activity.IsArchived),
		boolToInt(activity.IsFinished),
		boolToInt(activity.IsRecurring),
		activity.ModifiedAt.UTC().UnixNano(),
		nullableTime(activity.DeletedAt),
	)
	return err
}

// DeleteActivity removes the activity together with its items and history.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE activity_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE activity_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ItemsForActivity lists items by sort order, insertion order breaking ties.
func (s *Store) ItemsForActivity(ctx context.Context, activityID string) ([]domain.Item, error) {
	const query = `SELECT id, activity_id, name, is_packed, category, notes, sort_order, modified_at, deleted_at
		FROM items WHERE activity_id = ? ORDER BY sort_order, seq`

	rows, err := s.db.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// AddItem appends the item to its activity's order.
func (s *Store) AddItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order)+1, 0) FROM items WHERE activity_id = ?`,
		item.ActivityID).Scan(&next); err != nil {
		return domain.Item{}, err
	}
	item.SortOrder = next

	if err := insertItem(ctx, tx, item); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// PutItem inserts or fully replaces the item by id.
func (s *Store) PutItem(ctx context.Context, item domain.Item) error {
	const stmt = `INSERT INTO items (id, activity_id, name, is_packed, category, notes, sort_order, modified_at, deleted_at, seq)
		VALUES (?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq)+1, 0) FROM items))
		ON CONFLICT(id) DO UPDATE SET
			activity_id=excluded.activity_id, name=excluded.name,
			is_packed=excluded.is_packed, category=excluded.category,
			notes=excluded.notes, sort_order=excluded.sort_order,
			modified_at=excluded.modified_at, deleted_at=excluded.deleted_at`

	_, err := s.db.ExecContext(ctx, stmt,
		item.ID,
		item.ActivityID,
		item.Name,
		boolToInt(item.IsPacked),
		item.Category,
		item.Notes,
		item.SortOrder,
		item.ModifiedAt.UTC().UnixNano(),
		nullableTime(item.DeletedAt),
	)
	return err
}

// DeleteItem removes one item by id.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	return err
}

// UpdateSortOrders rewrites sort orders inside a single transaction.
func (s *Store) UpdateSortOrders(ctx context.Context, items []domain.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		res, err := tx.ExecContext(ctx, `UPDATE items SET sort_order = ? WHERE id = ?`, item.SortOrder, item.ID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("update sort order for %s: %w", item.ID, store.ErrNotFound)
		}
	}

	return tx.Commit()
}

// HistoryForActivity lists history entries newest first.
func (s *Store) HistoryForActivity(ctx context.Context, activityID string, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id, activity_id, start_time, end_time, completed_date, total_items, packed_items, duration_seconds
		FROM history_entries WHERE activity_id = ? ORDER BY completed_date DESC, seq DESC`
	args := []any{activityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var start, end, completed int64
		if err := rows.Scan(&e.ID, &e.ActivityID, &start, &end, &completed, &e.TotalItems, &e.PackedItems, &e.DurationSeconds); err != nil {
			return nil, err
		}
		e.StartTime = fromNanos(start)
		e.EndTime = fromNanos(end)
		e.CompletedDate = fromNanos(completed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddHistoryEntry appends a history entry. History is insert-only and not
// collapsed by id, so replaying the same entry stores it again.
func (s *Store) AddHistoryEntry(ctx context.Context, entry domain.HistoryEntry) error {
	const stmt = `INSERT INTO history_entries (id, activity_id, start_time, end_time, completed_date, total_items, packed_items, duration_seconds)
		VALUES (?,?,?,?,?,?,?,?)`

	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.ActivityID,
		entry.StartTime.UTC().UnixNano(),
		entry.EndTime.UTC().UnixNano(),
		entry.CompletedDate.UTC().UnixNano(),
		entry.TotalItems,
		entry.PackedItems,
		entry.DurationSeconds,
	)
	return err
}

func insertItem(ctx context.Context, tx *sql.Tx, item domain.Item) error {
	const stmt = `INSERT INTO items (id, activity_id, name, is_packed, category, notes, sort_order, modified_at, deleted_at, seq)
		VALUES (?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq)+1, 0) FROM items))`

	_, err := tx.ExecContext(ctx, stmt,
		item.ID,
		item.ActivityID,
		item.Name,
		boolToInt(item.IsPacked),
		item.Category,
		item.Notes,
		item.SortOrder,
		item.ModifiedAt.UTC().UnixNano(),
		nullableTime(item.DeletedAt),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (domain.Activity, error) {
	var a domain.Activity
	var lastPacked, modified int64
	var shared, archived, finished, recurring int
	var deleted sql.NullInt64

	if err := row.Scan(&a.ID, &a.Name, &lastPacked, &a.RunCount, &shared, &archived, &finished, &recurring, &modified, &deleted); err != nil {
		return domain.Activity{}, err
	}

	a.LastPackedAt = fromNanos(lastPacked)
	a.ModifiedAt = fromNanos(modified)
	a.IsShared = shared != 0
	a.IsArchived = archived != 0
	a.IsFinished = finished != 0
	a.IsRecurring = recurring != 0
	if deleted.Valid {
		t := fromNanos(deleted.Int64)
		a.DeletedAt = &t
	}
	return a, nil
}

func scanItem(row scanner) (domain.Item, error) {
	var i domain.Item
	var packed int
	var modified int64
	var deleted sql.NullInt64

	if err := row.Scan(&i.ID, &i.ActivityID, &i.Name, &packed, &i.Category, &i.Notes, &i.SortOrder, &modified, &deleted); err != nil {
		return domain.Item{}, err
	}

	i.IsPacked = packed != 0
	i.ModifiedAt = fromNanos(modified)
	if deleted.Valid {
		t := fromNanos(deleted.Int64)
		i.DeletedAt = &t
	}
	return i, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
