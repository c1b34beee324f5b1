// Package events defines the payloads published to Kafka by the sync API.
package events

import "time"

// Topics the sync API publishes to.
const (
	TopicSyncEvents = "packsync_sync_events"
)

// SyncCompleted is emitted after a device upload has been applied.
type SyncCompleted struct {
	UserID                  string    `json:"user_id"`
	DeviceID                string    `json:"device_id"`
	ActivitiesProcessed     int       `json:"activities_processed"`
	ItemsProcessed          int       `json:"items_processed"`
	HistoryEntriesProcessed int       `json:"history_entries_processed"`
	ConflictCount           int       `json:"conflict_count"`
	OccurredAt              time.Time `json:"occurred_at"`
}
