package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/packsync/internal/auth"
	"example.com/packsync/internal/premium"
	"example.com/packsync/internal/server"
	"example.com/packsync/internal/sync"
)

type mockRepo struct {
	users        map[string]string
	stats        server.UploadStats
	applied      []sync.Payload
	changes      sync.Payload
	lastModified *time.Time
	subscription server.Subscription
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[string]string)}
}

func (m *mockRepo) EnsureUser(_ context.Context, userID, deviceID string) error {
	m.users[userID] = deviceID
	return nil
}

func (m *mockRepo) ApplyUpload(_ context.Context, _ string, payload sync.Payload, _ time.Time) (server.UploadStats, error) {
	m.applied = append(m.applied, payload)
	return m.stats, nil
}

func (m *mockRepo) ChangesSince(_ context.Context, _ string, _ *time.Time) (sync.Payload, error) {
	return m.changes, nil
}

func (m *mockRepo) LastModified(_ context.Context, _ string) (*time.Time, error) {
	return m.lastModified, nil
}

func (m *mockRepo) Subscription(_ context.Context, _ string) (server.Subscription, error) {
	return m.subscription, nil
}

type memoryRefreshStore struct {
	tokens map[string]auth.RefreshToken
}

func newMemoryRefreshStore() *memoryRefreshStore {
	return &memoryRefreshStore{tokens: make(map[string]auth.RefreshToken)}
}

func (m *memoryRefreshStore) SaveRefreshToken(_ context.Context, token auth.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *memoryRefreshStore) GetRefreshToken(_ context.Context, token string) (auth.RefreshToken, error) {
	stored, ok := m.tokens[token]
	if !ok {
		return auth.RefreshToken{}, auth.ErrRefreshTokenNotFound
	}
	return stored, nil
}

func (m *memoryRefreshStore) DeleteRefreshToken(_ context.Context, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *memoryRefreshStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	for key, token := range m.tokens {
		if !token.ExpiresAt.After(now) {
			delete(m.tokens, key)
			removed++
		}
	}
	return removed, nil
}

var testAuthConfig = auth.Config{Secret: "api-test-secret", Issuer: "packsync"}

func newTestHandler(repo *mockRepo) (*Handler, *auth.TokenService) {
	service := server.NewService(repo, server.WithLogger(log.New(io.Discard, "", 0)))
	tokens := auth.NewTokenService(testAuthConfig, newMemoryRefreshStore(), time.Minute, time.Hour)
	return NewHandler(service, tokens), tokens
}

func newAuthedServer(t *testing.T, repo *mockRepo) (*httptest.Server, auth.TokenPair) {
	t.Helper()
	handler, tokens := newTestHandler(repo)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mw := auth.NewMiddleware(testAuthConfig, AuthSkipper)
	srv := httptest.NewServer(mw.Wrap(mux))
	t.Cleanup(srv.Close)

	pair, err := tokens.Issue(context.Background(), "device-1", "device-1", auth.DeviceScopes())
	require.NoError(t, err)
	return srv, pair
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLoginIssuesTokens(t *testing.T) {
	repo := newMockRepo()
	srv, _ := newAuthedServer(t, repo)

	resp := doRequest(t, srv, http.MethodPost, "/api/auth/login", "", LoginRequest{DeviceID: "device-9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair auth.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	// The user record is derived from the device.
	require.Equal(t, "device-9", repo.users["device-9"])

	claims, err := auth.Parse(pair.AccessToken, testAuthConfig)
	require.NoError(t, err)
	require.Equal(t, "device-9", claims.Subject)
	require.Equal(t, "device-9", claims.DeviceID)
}

func TestLoginRequiresDeviceID(t *testing.T) {
	srv, _ := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodPost, "/api/auth/login", "", LoginRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshRotatesTokens(t *testing.T) {
	srv, pair := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated auth.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old refresh token no longer works.
	resp = doRequest(t, srv, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadRequiresAuth(t *testing.T) {
	srv, _ := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodPost, "/api/sync/upload", "", sync.Payload{DeviceID: "device-1"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadAppliesPayload(t *testing.T) {
	repo := newMockRepo()
	repo.stats = server.UploadStats{Activities: 1, Items: 3}
	srv, pair := newAuthedServer(t, repo)

	payload := sync.Payload{
		DeviceID:   "device-1",
		Activities: []sync.ActivityRecord{{ID: "a1", Name: "Hiking"}},
	}
	resp := doRequest(t, srv, http.MethodPost, "/api/sync/upload", pair.AccessToken, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out sync.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Equal(t, 1, out.ActivitiesProcessed)
	require.Equal(t, 3, out.ItemsProcessed)
	require.False(t, out.ServerTimestamp.IsZero())
	require.Len(t, repo.applied, 1)
}

func TestDownloadNoContent(t *testing.T) {
	srv, pair := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodGet, "/api/sync/download", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDownloadReturnsChanges(t *testing.T) {
	repo := newMockRepo()
	repo.changes = sync.Payload{
		Activities: []sync.ActivityRecord{{ID: "a1", Name: "Hiking"}},
	}
	srv, pair := newAuthedServer(t, repo)

	resp := doRequest(t, srv, http.MethodGet, "/api/sync/download?since=2026-04-01T00:00:00Z", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload sync.Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "device-1", payload.UserID)
	require.Len(t, payload.Activities, 1)
}

func TestDownloadRejectsBadSince(t *testing.T) {
	srv, pair := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodGet, "/api/sync/download?since=not-a-time", pair.AccessToken, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLastModified(t *testing.T) {
	repo := newMockRepo()
	srv, pair := newAuthedServer(t, repo)

	resp := doRequest(t, srv, http.MethodGet, "/api/sync/last-modified", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	latest := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	repo.lastModified = &latest

	resp = doRequest(t, srv, http.MethodGet, "/api/sync/last-modified", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var encoded string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&encoded))
	parsed, err := time.Parse(time.RFC3339Nano, encoded)
	require.NoError(t, err)
	require.True(t, parsed.Equal(latest))
}

func TestSubscriptionStatus(t *testing.T) {
	repo := newMockRepo()
	expires := time.Now().UTC().Add(48 * time.Hour)
	repo.subscription = server.Subscription{IsPremium: true, Tier: "monthly", ExpiresAt: &expires}
	srv, pair := newAuthedServer(t, repo)

	resp := doRequest(t, srv, http.MethodGet, "/api/subscription/status", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status premium.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.True(t, status.IsPremium)
	require.Equal(t, "monthly", status.SubscriptionTier)
}

func TestHealthzBypassesAuth(t *testing.T) {
	srv, _ := newAuthedServer(t, newMockRepo())

	resp := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
