// Package domain defines the business model for packing activities,
// their items, and completed packing sessions.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrItemNotFound is returned when an item cannot be located.
	ErrItemNotFound = errors.New("item not found")
	// ErrInvalidSession is returned when a packing session fails validation.
	ErrInvalidSession = errors.New("invalid packing session")
)

// Activity is a single packing list for a trip or event.
//
// DeletedAt is sync bookkeeping only: a set value marks the activity as a
// tombstone that is excluded from normal listings but retained so the
// deletion propagates to other devices.
type Activity struct {
	ID           string
	Name         string
	LastPackedAt time.Time
	RunCount     int
	IsShared     bool
	IsArchived   bool
	IsFinished   bool
	IsRecurring  bool
	ModifiedAt   time.Time
	DeletedAt    *time.Time
}

// Item is one packable thing belonging to an activity. SortOrder defines
// the stable display position within the activity; values need not be
// contiguous.
type Item struct {
	ID         string
	ActivityID string
	Name       string
	IsPacked   bool
	Category   string
	Notes      string
	SortOrder  int
	ModifiedAt time.Time
	DeletedAt  *time.Time
}

// HistoryEntry records one completed packing session. Entries are
// immutable once written: they are only inserted, or bulk-deleted when
// their parent activity is deleted.
type HistoryEntry struct {
	ID              string
	ActivityID      string
	StartTime       time.Time
	EndTime         time.Time
	CompletedDate   time.Time
	TotalItems      int
	PackedItems     int
	DurationSeconds int
}

// NewHistoryEntry validates and derives a history entry for a finished
// session. CompletedDate defaults to the end time and DurationSeconds is
// derived from the start/end interval.
func NewHistoryEntry(id, activityID string, start, end time.Time, totalItems, packedItems int) (HistoryEntry, error) {
	if end.Before(start) {
		return HistoryEntry{}, errors.Join(ErrInvalidSession, errors.New("end time precedes start time"))
	}
	if totalItems < 0 || packedItems < 0 || packedItems > totalItems {
		return HistoryEntry{}, errors.Join(ErrInvalidSession, errors.New("packed items out of range"))
	}
	return HistoryEntry{
		ID:              id,
		ActivityID:      activityID,
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		CompletedDate:   end.UTC(),
		TotalItems:      totalItems,
		PackedItems:     packedItems,
		DurationSeconds: int(end.Sub(start).Seconds()),
	}, nil
}

// Deleted reports whether the activity is a tombstone.
func (a Activity) Deleted() bool {
	return a.DeletedAt != nil
}

// Deleted reports whether the item is a tombstone.
func (i Item) Deleted() bool {
	return i.DeletedAt != nil
}
