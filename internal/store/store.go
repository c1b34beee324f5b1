// Package store defines the on-device persistence contract consumed by the
// sync engine and the packing services.
package store

import (
	"context"
	"errors"

	"example.com/packsync/internal/domain"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("record not found")

// Store is the local row store for packing data. Implementations must keep
// items totally ordered per activity by sort order and history ordered by
// completion date (newest first), and must cascade item and history
// deletion when their activity is deleted.
type Store interface {
	Activities(ctx context.Context) ([]domain.Activity, error)
	Activity(ctx context.Context, id string) (domain.Activity, error)
	// PutActivity inserts or fully replaces the activity by id.
	PutActivity(ctx context.Context, activity domain.Activity) error
	// DeleteActivity removes the activity and all of its items and history.
	DeleteActivity(ctx context.Context, id string) error

	ItemsForActivity(ctx context.Context, activityID string) ([]domain.Item, error)
	// AddItem inserts the item at the end of its activity's order
	// (max sort order + 1, or 0 for the first item).
	AddItem(ctx context.Context, item domain.Item) (domain.Item, error)
	// PutItem inserts or fully replaces the item by id, keeping the
	// caller's sort order.
	PutItem(ctx context.Context, item domain.Item) error
	DeleteItem(ctx context.Context, id string) error
	// UpdateSortOrders persists the sort order of every given item inside
	// one transaction: either all updates commit or none do.
	UpdateSortOrders(ctx context.Context, items []domain.Item) error

	// HistoryForActivity returns entries newest first. A limit of 0 means
	// no limit.
	HistoryForActivity(ctx context.Context, activityID string, limit int) ([]domain.HistoryEntry, error)
	AddHistoryEntry(ctx context.Context, entry domain.HistoryEntry) error
}

// Settings is the durable key-value storage used for sync bookkeeping and
// the persisted premium cache. Missing keys yield zero values, not errors.
type Settings interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
}

// Keys for Settings entries used by the sync engine and premium cache.
const (
	KeyLastSyncTime      = "last_sync_time"
	KeyDeviceID          = "device_id"
	KeyPremiumStatus     = "premium_status"
	KeyPremiumExpiration = "premium_expiration"
	KeyPremiumLastCheck  = "premium_last_check"
)
