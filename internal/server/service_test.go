package server

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/packsync/internal/sync"
)

type fakeRepo struct {
	users        map[string]string
	stats        UploadStats
	applied      []sync.Payload
	changes      sync.Payload
	lastModified *time.Time
	subscription Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]string)}
}

func (f *fakeRepo) EnsureUser(_ context.Context, userID, deviceID string) error {
	f.users[userID] = deviceID
	return nil
}

func (f *fakeRepo) ApplyUpload(_ context.Context, _ string, payload sync.Payload, _ time.Time) (UploadStats, error) {
	f.applied = append(f.applied, payload)
	return f.stats, nil
}

func (f *fakeRepo) ChangesSince(_ context.Context, _ string, _ *time.Time) (sync.Payload, error) {
	return f.changes, nil
}

func (f *fakeRepo) LastModified(_ context.Context, _ string) (*time.Time, error) {
	return f.lastModified, nil
}

func (f *fakeRepo) Subscription(_ context.Context, _ string) (Subscription, error) {
	return f.subscription, nil
}

func newTestService(repo Repository, now time.Time) *Service {
	return NewService(repo,
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time { return now }))
}

func TestProcessUpload(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.stats = UploadStats{Activities: 2, Items: 4, History: 1}
	svc := newTestService(repo, now)

	resp, err := svc.ProcessUpload(context.Background(), "user-1", sync.Payload{DeviceID: "device-1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, now, resp.ServerTimestamp)
	require.Equal(t, 2, resp.ActivitiesProcessed)
	require.Equal(t, 4, resp.ItemsProcessed)
	require.Equal(t, 1, resp.HistoryEntriesProcessed)
	require.Equal(t, "device-1", repo.users["user-1"])
	require.Len(t, repo.applied, 1)
}

func TestProcessUploadRejectsMissingDevice(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())

	resp, err := svc.ProcessUpload(context.Background(), "user-1", sync.Payload{})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "invalid_payload", resp.ErrorCode)
	require.Empty(t, repo.applied)
}

func TestBuildDownloadEmpty(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())

	payload, err := svc.BuildDownload(context.Background(), "user-1", nil)
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestBuildDownloadStampsPayload(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.changes = sync.Payload{
		Activities: []sync.ActivityRecord{{ID: "a1", Name: "Hiking"}},
	}
	svc := newTestService(repo, now)

	payload, err := svc.BuildDownload(context.Background(), "user-1", nil)
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.Equal(t, "user-1", payload.UserID)
	require.Equal(t, now, payload.SyncTimestamp)
	require.Len(t, payload.Activities, 1)
}

func TestSubscriptionStatusFreeByDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())

	status, err := svc.SubscriptionStatus(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, status.IsPremium)
	require.Nil(t, status.ExpirationDate)
}

func TestSubscriptionStatusActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10*24*time.Hour + time.Hour)
	repo := newFakeRepo()
	repo.subscription = Subscription{IsPremium: true, Tier: "annual", ExpiresAt: &expires}
	svc := newTestService(repo, now)

	status, err := svc.SubscriptionStatus(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, status.IsPremium)
	require.Equal(t, "annual", status.SubscriptionTier)
	require.NotNil(t, status.DaysRemaining)
	require.Equal(t, 10, *status.DaysRemaining)
}

func TestSubscriptionStatusExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Hour)
	repo := newFakeRepo()
	repo.subscription = Subscription{IsPremium: true, Tier: "monthly", ExpiresAt: &expires, IsTrialActive: true}
	svc := newTestService(repo, now)

	status, err := svc.SubscriptionStatus(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, status.IsPremium)
	require.False(t, status.IsTrialActive)
	require.Nil(t, status.DaysRemaining)
}
