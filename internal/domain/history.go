package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultSecondsPerItem is the packing-time estimate used for an activity
// with no recorded history.
const DefaultSecondsPerItem = 30

// TimeComparison describes how a candidate duration relates to the
// historical average for an activity.
type TimeComparison struct {
	IsFaster   bool
	Difference time.Duration
	Formatted  string
}

// AveragePackingTime returns the arithmetic mean duration across the
// entries. The second return value is false when there is no history.
func AveragePackingTime(entries []HistoryEntry) (time.Duration, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	var total float64
	for _, e := range entries {
		total += float64(e.DurationSeconds)
	}
	avg := total / float64(len(entries))
	return time.Duration(avg * float64(time.Second)), true
}

// Efficiency returns the packed percentage rounded to one decimal place.
// An empty list (totalItems == 0) yields 0 rather than dividing by zero.
func Efficiency(packedItems, totalItems int) float64 {
	if totalItems == 0 {
		return 0
	}
	return math.Round(float64(packedItems)/float64(totalItems)*100*10) / 10
}

// CompareWithAverage reports whether the given duration beats the
// historical average, with a reader-friendly description bucketed into
// seconds below one minute and whole minutes above.
func CompareWithAverage(entries []HistoryEntry, current time.Duration) TimeComparison {
	avg, ok := AveragePackingTime(entries)
	if !ok {
		return TimeComparison{
			IsFaster:   false,
			Difference: 0,
			Formatted:  "No history available",
		}
	}

	diff := avg - current
	isFaster := diff > 0
	abs := diff
	if abs < 0 {
		abs = -abs
	}

	direction := "slower"
	if isFaster {
		direction = "faster"
	}

	var formatted string
	if abs < time.Minute {
		formatted = fmt.Sprintf("%d seconds %s", int(abs.Seconds()), direction)
	} else {
		formatted = fmt.Sprintf("%d minutes %s", int(abs.Minutes()), direction)
	}

	return TimeComparison{
		IsFaster:   isFaster,
		Difference: diff,
		Formatted:  formatted,
	}
}

// EstimateRemainingTime projects how long the remaining items will take.
// With no usable history it assumes DefaultSecondsPerItem per item.
// Entries with zero total items are excluded from the per-item mean so
// they cannot divide by zero.
func EstimateRemainingTime(entries []HistoryEntry, itemsRemaining int) time.Duration {
	var perItemSum float64
	var counted int
	for _, e := range entries {
		if e.TotalItems <= 0 {
			continue
		}
		perItemSum += float64(e.DurationSeconds) / float64(e.TotalItems)
		counted++
	}

	if counted == 0 {
		return time.Duration(itemsRemaining*DefaultSecondsPerItem) * time.Second
	}

	perItem := perItemSum / float64(counted)
	return time.Duration(float64(itemsRemaining) * perItem * float64(time.Second))
}

// RecordSession builds the history entry for a completed packing session,
// minting its id and deriving duration and completed date from the
// session bounds.
func RecordSession(activityID string, start, end time.Time, totalItems, packedItems int) (HistoryEntry, error) {
	return NewHistoryEntry(uuid.NewString(), activityID, start, end, totalItems, packedItems)
}

// RecentHistory returns the n most recently completed entries, newest
// first. n <= 0 or n beyond the list length returns everything.
func RecentHistory(entries []HistoryEntry, n int) []HistoryEntry {
	sorted := make([]HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CompletedDate.After(sorted[j].CompletedDate)
	})
	if n <= 0 || n >= len(sorted) {
		return sorted
	}
	return sorted[:n]
}

// LastSession returns the most recently completed entry, or nil when
// there is no history.
func LastSession(entries []HistoryEntry) *HistoryEntry {
	recent := RecentHistory(entries, 1)
	if len(recent) == 0 {
		return nil
	}
	return &recent[0]
}
