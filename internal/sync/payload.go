package sync

import (
	"time"

	"example.com/packsync/internal/domain"
)

// Payload is the wire representation of a device's packing data exchanged
// with the sync API in both directions.
type Payload struct {
	UserID         string          `json:"userId"`
	SyncTimestamp  time.Time       `json:"syncTimestamp"`
	DeviceID       string          `json:"deviceId"`
	Activities     []ActivityRecord `json:"activities"`
	Items          []ItemRecord     `json:"items"`
	HistoryEntries []HistoryRecord  `json:"historyEntries"`
}

// ActivityRecord is the sync representation of a packing activity.
type ActivityRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LastPackedAt time.Time  `json:"lastPackedAt"`
	RunCount     int        `json:"runCount"`
	IsShared     bool       `json:"isShared"`
	IsArchived   bool       `json:"isArchived"`
	IsFinished   bool       `json:"isFinished"`
	IsRecurring  bool       `json:"isRecurring"`
	ModifiedAt   time.Time  `json:"modifiedAt"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// ItemRecord is the sync representation of a packable item.
type ItemRecord struct {
	ID         string     `json:"id"`
	ActivityID string     `json:"activityId"`
	Name       string     `json:"name"`
	IsPacked   bool       `json:"isPacked"`
	Category   string     `json:"category,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	SortOrder  int        `json:"sortOrder"`
	ModifiedAt time.Time  `json:"modifiedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// HistoryRecord is the sync representation of a completed packing session.
type HistoryRecord struct {
	ID              string    `json:"id"`
	ActivityID      string    `json:"activityId"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	CompletedDate   time.Time `json:"completedDate"`
	TotalItems      int       `json:"totalItems"`
	PackedItems     int       `json:"packedItems"`
	DurationSeconds int       `json:"durationSeconds"`
}

// UploadResponse is returned by the server after processing an upload.
type UploadResponse struct {
	Success                 bool       `json:"success"`
	ErrorMessage            string     `json:"errorMessage,omitempty"`
	ErrorCode               string     `json:"errorCode,omitempty"`
	ServerTimestamp         time.Time  `json:"serverTimestamp"`
	ActivitiesProcessed     int        `json:"activitiesProcessed"`
	ItemsProcessed          int        `json:"itemsProcessed"`
	HistoryEntriesProcessed int        `json:"historyEntriesProcessed"`
	Conflicts               []Conflict `json:"conflicts,omitempty"`
}

// Conflict reports a record whose server copy was modified after the
// uploaded copy. Sync is last-write-wins; conflicts are surfaced, not
// merged.
type Conflict struct {
	EntityType       string    `json:"entityType"`
	EntityID         string    `json:"entityId"`
	ConflictType     string    `json:"conflictType"`
	LocalModifiedAt  time.Time `json:"localModifiedAt"`
	ServerModifiedAt time.Time `json:"serverModifiedAt"`
}

func activityToRecord(a domain.Activity, modifiedAt time.Time) ActivityRecord {
	return ActivityRecord{
		ID:           a.ID,
		Name:         a.Name,
		LastPackedAt: a.LastPackedAt,
		RunCount:     a.RunCount,
		IsShared:     a.IsShared,
		IsArchived:   a.IsArchived,
		IsFinished:   a.IsFinished,
		IsRecurring:  a.IsRecurring,
		ModifiedAt:   modifiedAt,
		DeletedAt:    a.DeletedAt,
	}
}

func itemToRecord(i domain.Item, modifiedAt time.Time) ItemRecord {
	return ItemRecord{
		ID:         i.ID,
		ActivityID: i.ActivityID,
		Name:       i.Name,
		IsPacked:   i.IsPacked,
		Category:   i.Category,
		Notes:      i.Notes,
		SortOrder:  i.SortOrder,
		ModifiedAt: modifiedAt,
		DeletedAt:  i.DeletedAt,
	}
}

func historyToRecord(e domain.HistoryEntry) HistoryRecord {
	return HistoryRecord{
		ID:              e.ID,
		ActivityID:      e.ActivityID,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		CompletedDate:   e.CompletedDate,
		TotalItems:      e.TotalItems,
		PackedItems:     e.PackedItems,
		DurationSeconds: e.DurationSeconds,
	}
}

func activityFromRecord(r ActivityRecord) domain.Activity {
	return domain.Activity{
		ID:           r.ID,
		Name:         r.Name,
		LastPackedAt: r.LastPackedAt,
		RunCount:     r.RunCount,
		IsShared:     r.IsShared,
		IsArchived:   r.IsArchived,
		IsFinished:   r.IsFinished,
		IsRecurring:  r.IsRecurring,
		ModifiedAt:   r.ModifiedAt,
	}
}

func itemFromRecord(r ItemRecord) domain.Item {
	return domain.Item{
		ID:         r.ID,
		ActivityID: r.ActivityID,
		Name:       r.Name,
		IsPacked:   r.IsPacked,
		Category:   r.Category,
		Notes:      r.Notes,
		SortOrder:  r.SortOrder,
		ModifiedAt: r.ModifiedAt,
	}
}

func historyFromRecord(r HistoryRecord) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:              r.ID,
		ActivityID:      r.ActivityID,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		CompletedDate:   r.CompletedDate,
		TotalItems:      r.TotalItems,
		PackedItems:     r.PackedItems,
		DurationSeconds: r.DurationSeconds,
	}
}
