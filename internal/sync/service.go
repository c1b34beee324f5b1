// Package sync implements bidirectional synchronization between the
// on-device store and the sync API. Uploads push the full local data set,
// downloads apply server changes since the last sync, and both directions
// are gated behind an active premium subscription.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"example.com/packsync/internal/store"
)

const (
	premiumRequiredMessage = "Premium subscription required for sync features"
	inProgressMessage      = "sync already in progress"
	nothingToDownload      = "No data to download"
)

// PremiumChecker gates sync operations behind an active subscription.
type PremiumChecker interface {
	IsPremium(ctx context.Context) bool
}

// APIClient is the transport used to reach the sync API. *Client
// implements it.
type APIClient interface {
	Upload(ctx context.Context, payload Payload) (UploadResponse, error)
	Download(ctx context.Context, since *time.Time) (*Payload, error)
	LastModified(ctx context.Context) (*time.Time, error)
}

// Service coordinates sync between the local store and the sync API.
// At most one operation runs at a time; overlapping calls fail fast.
type Service struct {
	api      APIClient
	store    store.Store
	settings store.Settings
	premium  PremiumChecker
	logger   *log.Logger
	now      func() time.Time

	mu        gosync.Mutex
	status    Status
	inFlight  bool
	listeners []StatusListener
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService constructs the sync service.
func NewService(api APIClient, st store.Store, settings store.Settings, premium PremiumChecker, opts ...Option) *Service {
	s := &Service{
		api:      api,
		store:    st,
		settings: settings,
		premium:  premium,
		logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
		now:      time.Now,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the engine's current status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatusChanged registers a listener fired on every status transition.
// Listeners run synchronously on the syncing goroutine.
func (s *Service) OnStatusChanged(fn StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LastSyncTime reports when the device last completed a sync, or nil if
// it never has.
func (s *Service) LastSyncTime(ctx context.Context) (*time.Time, error) {
	return s.lastSyncTime(ctx)
}

// Upload pushes the full local data set to the server.
func (s *Service) Upload(ctx context.Context) Result {
	if !s.premium.IsPremium(ctx) {
		s.setStatus(StatusNotPremium)
		return failure(premiumRequiredMessage)
	}
	if !s.begin() {
		return failure(inProgressMessage)
	}
	defer s.end()

	start := time.Now()
	res := s.upload(ctx)
	s.finish(res)
	recordSync("upload", start, res)
	return res
}

// Download pulls server changes since the last sync and applies them to
// the local store.
func (s *Service) Download(ctx context.Context) Result {
	if !s.premium.IsPremium(ctx) {
		s.setStatus(StatusNotPremium)
		return failure(premiumRequiredMessage)
	}
	if !s.begin() {
		return failure(inProgressMessage)
	}
	defer s.end()

	start := time.Now()
	res := s.download(ctx)
	s.finish(res)
	recordSync("download", start, res)
	return res
}

// Sync performs a full bidirectional sync: upload first, then download.
// Counts from both directions are summed in the result.
func (s *Service) Sync(ctx context.Context) Result {
	if !s.premium.IsPremium(ctx) {
		s.setStatus(StatusNotPremium)
		return failure(premiumRequiredMessage)
	}
	if !s.begin() {
		return failure(inProgressMessage)
	}
	defer s.end()

	start := time.Now()
	s.setStatus(StatusSyncing)

	up := s.upload(ctx)
	if !up.Success {
		s.setStatus(StatusError)
		recordSync("bidirectional", start, up)
		return up
	}

	down := s.download(ctx)
	if !down.Success {
		s.setStatus(StatusError)
		recordSync("bidirectional", start, down)
		return down
	}

	syncTime := s.now().UTC()
	result := Result{
		Success:              true,
		ActivitiesSynced:     up.ActivitiesSynced + down.ActivitiesSynced,
		ItemsSynced:          up.ItemsSynced + down.ItemsSynced,
		HistoryEntriesSynced: up.HistoryEntriesSynced + down.HistoryEntriesSynced,
		SyncTime:             &syncTime,
	}
	s.setStatus(StatusIdle)
	recordSync("bidirectional", start, result)
	return result
}

func (s *Service) upload(ctx context.Context) Result {
	s.setStatus(StatusUploading)

	payload, err := s.buildPayload(ctx)
	if err != nil {
		s.logger.Printf("ERROR: build upload payload: %v", err)
		return failure(fmt.Sprintf("failed to read local data: %v", err))
	}

	resp, err := s.api.Upload(ctx, payload)
	if err != nil {
		s.logger.Printf("ERROR: upload: %v", err)
		return failure(fmt.Sprintf("upload failed: %v", err))
	}
	if !resp.Success {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "server rejected upload"
		}
		return failure(msg)
	}

	if err := s.settings.SetInt64(ctx, store.KeyLastSyncTime, resp.ServerTimestamp.UnixNano()); err != nil {
		s.logger.Printf("WARNING: persist last sync time: %v", err)
	}

	syncTime := resp.ServerTimestamp
	return Result{
		Success:              true,
		ActivitiesSynced:     resp.ActivitiesProcessed,
		ItemsSynced:          resp.ItemsProcessed,
		HistoryEntriesSynced: resp.HistoryEntriesProcessed,
		SyncTime:             &syncTime,
	}
}

func (s *Service) download(ctx context.Context) Result {
	s.setStatus(StatusDownloading)

	since, err := s.lastSyncTime(ctx)
	if err != nil {
		s.logger.Printf("ERROR: read last sync time: %v", err)
		return failure(fmt.Sprintf("failed to read last sync time: %v", err))
	}

	payload, err := s.api.Download(ctx, since)
	if err != nil {
		s.logger.Printf("ERROR: download: %v", err)
		return failure(fmt.Sprintf("download failed: %v", err))
	}
	if payload == nil {
		now := s.now().UTC()
		return Result{Success: true, ErrorMessage: nothingToDownload, SyncTime: &now}
	}

	// Activities first so that item and history rows always have a parent,
	// history last because it is append-only.
	for _, record := range payload.Activities {
		if record.DeletedAt != nil {
			err = s.store.DeleteActivity(ctx, record.ID)
		} else {
			err = s.store.PutActivity(ctx, activityFromRecord(record))
		}
		if err != nil {
			s.logger.Printf("ERROR: apply activity %s: %v", record.ID, err)
			return failure(fmt.Sprintf("failed to apply downloaded data: %v", err))
		}
	}
	for _, record := range payload.Items {
		if record.DeletedAt != nil {
			err = s.store.DeleteItem(ctx, record.ID)
		} else {
			err = s.store.PutItem(ctx, itemFromRecord(record))
		}
		if err != nil {
			s.logger.Printf("ERROR: apply item %s: %v", record.ID, err)
			return failure(fmt.Sprintf("failed to apply downloaded data: %v", err))
		}
	}
	for _, record := range payload.HistoryEntries {
		if err := s.store.AddHistoryEntry(ctx, historyFromRecord(record)); err != nil {
			s.logger.Printf("ERROR: apply history entry %s: %v", record.ID, err)
			return failure(fmt.Sprintf("failed to apply downloaded data: %v", err))
		}
	}

	if err := s.settings.SetInt64(ctx, store.KeyLastSyncTime, payload.SyncTimestamp.UnixNano()); err != nil {
		s.logger.Printf("WARNING: persist last sync time: %v", err)
	}

	syncTime := payload.SyncTimestamp
	return Result{
		Success:              true,
		ActivitiesSynced:     len(payload.Activities),
		ItemsSynced:          len(payload.Items),
		HistoryEntriesSynced: len(payload.HistoryEntries),
		SyncTime:             &syncTime,
	}
}

func (s *Service) buildPayload(ctx context.Context) (Payload, error) {
	deviceID, err := s.deviceID(ctx)
	if err != nil {
		return Payload{}, err
	}

	activities, err := s.store.Activities(ctx)
	if err != nil {
		return Payload{}, err
	}

	modifiedAt := s.now().UTC()
	payload := Payload{
		UserID:        deviceID,
		DeviceID:      deviceID,
		SyncTimestamp: modifiedAt,
		Activities:    make([]ActivityRecord, 0, len(activities)),
	}
	for _, activity := range activities {
		payload.Activities = append(payload.Activities, activityToRecord(activity, modifiedAt))

		items, err := s.store.ItemsForActivity(ctx, activity.ID)
		if err != nil {
			return Payload{}, err
		}
		for _, item := range items {
			payload.Items = append(payload.Items, itemToRecord(item, modifiedAt))
		}

		history, err := s.store.HistoryForActivity(ctx, activity.ID, 0)
		if err != nil {
			return Payload{}, err
		}
		for _, entry := range history {
			payload.HistoryEntries = append(payload.HistoryEntries, historyToRecord(entry))
		}
	}
	return payload, nil
}

// deviceID returns the stable device identifier, minting one on first use.
func (s *Service) deviceID(ctx context.Context) (string, error) {
	id, err := s.settings.GetString(ctx, store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.settings.SetString(ctx, store.KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) lastSyncTime(ctx context.Context) (*time.Time, error) {
	ticks, err := s.settings.GetInt64(ctx, store.KeyLastSyncTime)
	if err != nil {
		return nil, err
	}
	if ticks == 0 {
		return nil, nil
	}
	t := time.Unix(0, ticks).UTC()
	return &t, nil
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Service) finish(res Result) {
	if res.Success {
		s.setStatus(StatusIdle)
	} else {
		s.setStatus(StatusError)
	}
}

func (s *Service) setStatus(next Status) {
	s.mu.Lock()
	if s.status == next {
		s.mu.Unlock()
		return
	}
	s.status = next
	listeners := make([]StatusListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}
