// Package server implements the cloud side of sync: applying device
// uploads, building download payloads, and reporting subscription status.
package server

import (
	"context"
	"log"
	"os"
	"time"

	"example.com/packsync/internal/observability"
	"example.com/packsync/internal/premium"
	"example.com/packsync/internal/sync"
)

// UploadStats summarizes what an upload changed on the server.
type UploadStats struct {
	Activities int
	Items      int
	History    int
	Conflicts  []sync.Conflict
}

// Subscription is the raw subscription row for a user.
type Subscription struct {
	IsPremium     bool
	Tier          string
	ExpiresAt     *time.Time
	IsTrialActive bool
}

// Repository is the persistence contract for the sync API.
type Repository interface {
	EnsureUser(ctx context.Context, userID, deviceID string) error
	// ApplyUpload applies the payload in a single transaction with
	// last-write-wins semantics and records a sync event in the outbox.
	ApplyUpload(ctx context.Context, userID string, payload sync.Payload, receivedAt time.Time) (UploadStats, error)
	// ChangesSince returns every record modified after since, tombstones
	// included. A nil since means everything.
	ChangesSince(ctx context.Context, userID string, since *time.Time) (sync.Payload, error)
	LastModified(ctx context.Context, userID string) (*time.Time, error)
	Subscription(ctx context.Context, userID string) (Subscription, error)
}

// Service coordinates sync processing for authenticated devices.
type Service struct {
	repo   Repository
	logger *log.Logger
	now    func() time.Time
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

// NewService constructs the server-side sync service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: log.New(os.Stderr, "[server] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterDevice ensures the device has a user record and returns the
// user id it syncs under. User identity is derived from the device.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) (string, error) {
	userID := deviceID
	if err := s.repo.EnsureUser(ctx, userID, deviceID); err != nil {
		return "", err
	}
	return userID, nil
}

// ProcessUpload applies a device upload and reports per-entity counts.
// Records whose server copy is newer than the uploaded copy are skipped
// and surfaced as conflicts.
func (s *Service) ProcessUpload(ctx context.Context, userID string, payload sync.Payload) (sync.UploadResponse, error) {
	if payload.DeviceID == "" {
		return sync.UploadResponse{
			Success:      false,
			ErrorMessage: "payload is missing a device id",
			ErrorCode:    "invalid_payload",
		}, nil
	}

	if err := s.repo.EnsureUser(ctx, userID, payload.DeviceID); err != nil {
		return sync.UploadResponse{}, err
	}

	now := s.now().UTC()
	stats, err := s.repo.ApplyUpload(ctx, userID, payload, now)
	if err != nil {
		return sync.UploadResponse{}, err
	}

	if len(stats.Conflicts) > 0 {
		s.logger.Printf("upload for user %s had %d conflicts", userID, len(stats.Conflicts))
	}
	observability.RecordUpload(now, len(stats.Conflicts))

	return sync.UploadResponse{
		Success:                 true,
		ServerTimestamp:         now,
		ActivitiesProcessed:     stats.Activities,
		ItemsProcessed:          stats.Items,
		HistoryEntriesProcessed: stats.History,
		Conflicts:               stats.Conflicts,
	}, nil
}

// BuildDownload assembles the changes a device should receive. A nil
// payload means the server has nothing newer than since.
func (s *Service) BuildDownload(ctx context.Context, userID string, since *time.Time) (*sync.Payload, error) {
	payload, err := s.repo.ChangesSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(payload.Activities) == 0 && len(payload.Items) == 0 && len(payload.HistoryEntries) == 0 {
		return nil, nil
	}

	payload.UserID = userID
	payload.SyncTimestamp = s.now().UTC()
	return &payload, nil
}

// LastModified reports when the user's server-side data last changed.
func (s *Service) LastModified(ctx context.Context, userID string) (*time.Time, error) {
	return s.repo.LastModified(ctx, userID)
}

// SubscriptionStatus normalizes the stored subscription into the shape
// devices cache. Expired subscriptions report as not premium.
func (s *Service) SubscriptionStatus(ctx context.Context, userID string) (premium.Status, error) {
	sub, err := s.repo.Subscription(ctx, userID)
	if err != nil {
		return premium.Status{}, err
	}

	status := premium.Status{
		IsPremium:        sub.IsPremium,
		ExpirationDate:   sub.ExpiresAt,
		SubscriptionTier: sub.Tier,
		IsTrialActive:    sub.IsTrialActive,
	}
	if sub.ExpiresAt != nil {
		now := s.now().UTC()
		if !sub.ExpiresAt.After(now) {
			status.IsPremium = false
			status.IsTrialActive = false
		} else if status.IsPremium {
			days := int(sub.ExpiresAt.Sub(now).Hours() / 24)
			status.DaysRemaining = &days
		}
	}
	return status, nil
}
