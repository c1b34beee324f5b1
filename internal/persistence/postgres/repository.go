// Package postgres provides pgx-backed persistence for the sync API.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/packsync/internal/auth"
	"example.com/packsync/internal/events"
	"example.com/packsync/internal/server"
	"example.com/packsync/internal/sync"
)

// Repository provides Postgres-backed persistence for synced packing data,
// subscriptions, refresh tokens, and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureUser registers the user on first contact and tracks the most
// recent device seen.
func (r *Repository) EnsureUser(ctx context.Context, userID, deviceID string) error {
	const stmt = `INSERT INTO users (user_id, device_id, created_at, last_seen_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (user_id) DO UPDATE SET device_id = EXCLUDED.device_id, last_seen_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, userID, deviceID)
	return err
}

// ApplyUpload applies the uploaded payload in one transaction.
//
// Upserts are last-write-wins on modified_at: a record whose server copy
// is strictly newer is skipped and reported as a conflict. History is
// append-only and deduplicated by id, so re-uploads are idempotent. A
// sync.completed outbox event is recorded in the same transaction.
func (r *Repository) ApplyUpload(ctx context.Context, userID string, payload sync.Payload, receivedAt time.Time) (server.UploadStats, error) {
	var stats server.UploadStats

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return stats, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	for _, record := range payload.Activities {
		conflict, upsertErr := r.upsertActivity(ctx, tx, userID, record)
		if upsertErr != nil {
			err = upsertErr
			return stats, err
		}
		if conflict != nil {
			stats.Conflicts = append(stats.Conflicts, *conflict)
		}
		stats.Activities++
	}

	for _, record := range payload.Items {
		conflict, upsertErr := r.upsertItem(ctx, tx, userID, record)
		if upsertErr != nil {
			err = upsertErr
			return stats, err
		}
		if conflict != nil {
			stats.Conflicts = append(stats.Conflicts, *conflict)
		}
		stats.Items++
	}

	for _, record := range payload.HistoryEntries {
		if err = r.insertHistory(ctx, tx, userID, record, receivedAt); err != nil {
			return stats, err
		}
		stats.History++
	}

	if err = r.insertOutbox(ctx, tx, userID, payload.DeviceID, stats, receivedAt); err != nil {
		return stats, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *Repository) upsertActivity(ctx context.Context, tx pgx.Tx, userID string, record sync.ActivityRecord) (*sync.Conflict, error) {
	const stmt = `INSERT INTO activities (user_id, activity_id, name, last_packed_at, run_count, is_shared, is_archived, is_finished, is_recurring, modified_at, deleted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (user_id, activity_id) DO UPDATE SET
            name = EXCLUDED.name,
            last_packed_at = EXCLUDED.last_packed_at,
            run_count = EXCLUDED.run_count,
            is_shared = EXCLUDED.is_shared,
            is_archived = EXCLUDED.is_archived,
            is_finished = EXCLUDED.is_finished,
            is_recurring = EXCLUDED.is_recurring,
            modified_at = EXCLUDED.modified_at,
            deleted_at = EXCLUDED.deleted_at
        WHERE activities.modified_at <= EXCLUDED.modified_at`

	tag, err := tx.Exec(ctx, stmt,
		userID,
		record.ID,
		record.Name,
		record.LastPackedAt,
		record.RunCount,
		record.IsShared,
		record.IsArchived,
		record.IsFinished,
		record.IsRecurring,
		record.ModifiedAt,
		nullableTime(record.DeletedAt),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() > 0 {
		return nil, nil
	}
	return r.buildConflict(ctx, tx, "activity", userID, record.ID, record.ModifiedAt,
		`SELECT modified_at FROM activities WHERE user_id=$1 AND activity_id=$2`)
}

func (r *Repository) upsertItem(ctx context.Context, tx pgx.Tx, userID string, record sync.ItemRecord) (*sync.Conflict, error) {
	const stmt = `INSERT INTO items (user_id, item_id, activity_id, name, is_packed, category, notes, sort_order, modified_at, deleted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id, item_id) DO UPDATE SET
            activity_id = EXCLUDED.activity_id,
            name = EXCLUDED.name,
            is_packed = EXCLUDED.is_packed,
            category = EXCLUDED.category,
            notes = EXCLUDED.notes,
            sort_order = EXCLUDED.sort_order,
            modified_at = EXCLUDED.modified_at,
            deleted_at = EXCLUDED.deleted_at
        WHERE items.modified_at <= EXCLUDED.modified_at`

	tag, err := tx.Exec(ctx, stmt,
		userID,
		record.ID,
		record.ActivityID,
		record.Name,
		record.IsPacked,
		record.Category,
		record.Notes,
		record.SortOrder,
		record.ModifiedAt,
		nullableTime(record.DeletedAt),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() > 0 {
		return nil, nil
	}
	return r.buildConflict(ctx, tx, "item", userID, record.ID, record.ModifiedAt,
		`SELECT modified_at FROM items WHERE user_id=$1 AND item_id=$2`)
}

func (r *Repository) buildConflict(ctx context.Context, tx pgx.Tx, entityType, userID, entityID string, localModifiedAt time.Time, query string) (*sync.Conflict, error) {
	var serverModifiedAt time.Time
	if err := tx.QueryRow(ctx, query, userID, entityID).Scan(&serverModifiedAt); err != nil {
		return nil, err
	}
	return &sync.Conflict{
		EntityType:       entityType,
		EntityID:         entityID,
		ConflictType:     "server_newer",
		LocalModifiedAt:  localModifiedAt,
		ServerModifiedAt: serverModifiedAt,
	}, nil
}

func (r *Repository) insertHistory(ctx context.Context, tx pgx.Tx, userID string, record sync.HistoryRecord, receivedAt time.Time) error {
	const stmt = `INSERT INTO history_entries (user_id, entry_id, activity_id, start_time, end_time, completed_date, total_items, packed_items, duration_seconds, received_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id, entry_id) DO NOTHING`

	_, err := tx.Exec(ctx, stmt,
		userID,
		record.ID,
		record.ActivityID,
		record.StartTime,
		record.EndTime,
		record.CompletedDate,
		record.TotalItems,
		record.PackedItems,
		record.DurationSeconds,
		receivedAt,
	)
	return err
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, userID, deviceID string, stats server.UploadStats, receivedAt time.Time) error {
	body, err := json.Marshal(events.SyncCompleted{
		UserID:                  userID,
		DeviceID:                deviceID,
		ActivitiesProcessed:     stats.Activities,
		ItemsProcessed:          stats.Items,
		HistoryEntriesProcessed: stats.History,
		ConflictCount:           len(stats.Conflicts),
		OccurredAt:              receivedAt,
	})
	if err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", userID, deviceID, receivedAt.UnixNano())

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		"sync",
		userID,
		"sync.completed",
		events.TopicSyncEvents,
		userID,
		body,
		dedupeKey,
	)
	return err
}

// ChangesSince returns the user's records modified after since, tombstones
// included. A nil since returns everything.
func (r *Repository) ChangesSince(ctx context.Context, userID string, since *time.Time) (sync.Payload, error) {
	var payload sync.Payload

	activities, err := r.activitiesSince(ctx, userID, since)
	if err != nil {
		return payload, err
	}
	items, err := r.itemsSince(ctx, userID, since)
	if err != nil {
		return payload, err
	}
	history, err := r.historySince(ctx, userID, since)
	if err != nil {
		return payload, err
	}

	payload.Activities = activities
	payload.Items = items
	payload.HistoryEntries = history
	return payload, nil
}

func (r *Repository) activitiesSince(ctx context.Context, userID string, since *time.Time) ([]sync.ActivityRecord, error) {
	query := `SELECT activity_id, name, last_packed_at, run_count, is_shared, is_archived, is_finished, is_recurring, modified_at, deleted_at
        FROM activities WHERE user_id=$1`
	args := []interface{}{userID}
	if since != nil {
		query += ` AND modified_at > $2`
		args = append(args, *since)
	}
	query += ` ORDER BY modified_at, activity_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sync.ActivityRecord
	for rows.Next() {
		var rec sync.ActivityRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.LastPackedAt, &rec.RunCount, &rec.IsShared, &rec.IsArchived, &rec.IsFinished, &rec.IsRecurring, &rec.ModifiedAt, &rec.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) itemsSince(ctx context.Context, userID string, since *time.Time) ([]sync.ItemRecord, error) {
	query := `SELECT item_id, activity_id, name, is_packed, category, notes, sort_order, modified_at, deleted_at
        FROM items WHERE user_id=$1`
	args := []interface{}{userID}
	if since != nil {
		query += ` AND modified_at > $2`
		args = append(args, *since)
	}
	query += ` ORDER BY modified_at, item_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sync.ItemRecord
	for rows.Next() {
		var rec sync.ItemRecord
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.Name, &rec.IsPacked, &rec.Category, &rec.Notes, &rec.SortOrder, &rec.ModifiedAt, &rec.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) historySince(ctx context.Context, userID string, since *time.Time) ([]sync.HistoryRecord, error) {
	query := `SELECT entry_id, activity_id, start_time, end_time, completed_date, total_items, packed_items, duration_seconds
        FROM history_entries WHERE user_id=$1`
	args := []interface{}{userID}
	if since != nil {
		query += ` AND received_at > $2`
		args = append(args, *since)
	}
	query += ` ORDER BY completed_date, entry_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sync.HistoryRecord
	for rows.Next() {
		var rec sync.HistoryRecord
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.StartTime, &rec.EndTime, &rec.CompletedDate, &rec.TotalItems, &rec.PackedItems, &rec.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastModified reports the newest change across the user's data, nil when
// the user has no data.
func (r *Repository) LastModified(ctx context.Context, userID string) (*time.Time, error) {
	const query = `SELECT GREATEST(
        (SELECT MAX(modified_at) FROM activities WHERE user_id=$1),
        (SELECT MAX(modified_at) FROM items WHERE user_id=$1),
        (SELECT MAX(received_at) FROM history_entries WHERE user_id=$1))`

	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&latest); err != nil {
		return nil, err
	}
	return latest, nil
}

// Subscription fetches the user's subscription row. Missing rows read as
// the free tier.
func (r *Repository) Subscription(ctx context.Context, userID string) (server.Subscription, error) {
	const query = `SELECT is_premium, tier, expires_at, is_trial
        FROM subscriptions WHERE user_id=$1`

	var sub server.Subscription
	err := r.pool.QueryRow(ctx, query, userID).Scan(&sub.IsPremium, &sub.Tier, &sub.ExpiresAt, &sub.IsTrialActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return server.Subscription{}, nil
	}
	if err != nil {
		return server.Subscription{}, err
	}
	return sub, nil
}

// UpsertSubscription stores the user's subscription state.
func (r *Repository) UpsertSubscription(ctx context.Context, userID string, sub server.Subscription) error {
	const stmt = `INSERT INTO subscriptions (user_id, is_premium, tier, expires_at, is_trial, updated_at)
        VALUES ($1,$2,$3,$4,$5,NOW())
        ON CONFLICT (user_id) DO UPDATE SET
            is_premium = EXCLUDED.is_premium,
            tier = EXCLUDED.tier,
            expires_at = EXCLUDED.expires_at,
            is_trial = EXCLUDED.is_trial,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, userID, sub.IsPremium, sub.Tier, sub.ExpiresAt, sub.IsTrialActive)
	return err
}

// SaveRefreshToken persists a refresh token.
func (r *Repository) SaveRefreshToken(ctx context.Context, token auth.RefreshToken) error {
	const stmt = `INSERT INTO refresh_tokens (token, user_id, device_id, expires_at, created_at)
        VALUES ($1,$2,$3,$4,$5)`

	_, err := r.pool.Exec(ctx, stmt, token.Token, token.UserID, token.DeviceID, token.ExpiresAt, token.CreatedAt)
	return err
}

// GetRefreshToken looks up a refresh token.
func (r *Repository) GetRefreshToken(ctx context.Context, token string) (auth.RefreshToken, error) {
	const query = `SELECT token, user_id, device_id, expires_at, created_at
        FROM refresh_tokens WHERE token=$1`

	var stored auth.RefreshToken
	err := r.pool.QueryRow(ctx, query, token).Scan(&stored.Token, &stored.UserID, &stored.DeviceID, &stored.ExpiresAt, &stored.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.RefreshToken{}, auth.ErrRefreshTokenNotFound
	}
	if err != nil {
		return auth.RefreshToken{}, err
	}
	return stored, nil
}

// DeleteRefreshToken removes a refresh token.
func (r *Repository) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token=$1`, token)
	return err
}

// DeleteExpiredRefreshTokens evicts tokens past their expiry.
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
