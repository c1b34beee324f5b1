package sync

import "time"

// Status represents the current state of the sync engine.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusSyncing     Status = "syncing"
	StatusUploading   Status = "uploading"
	StatusDownloading Status = "downloading"
	StatusError       Status = "error"
	StatusNotPremium  Status = "not_premium"
)

// StatusListener is invoked synchronously whenever the engine transitions
// to a new status.
type StatusListener func(Status)

// Result summarizes one upload, download, or bidirectional sync.
type Result struct {
	Success              bool
	ErrorMessage         string
	ActivitiesSynced     int
	ItemsSynced          int
	HistoryEntriesSynced int
	SyncTime             *time.Time
}

func failure(message string) Result {
	return Result{Success: false, ErrorMessage: message}
}
