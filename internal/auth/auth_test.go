package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "packsync"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":       "user-1",
		"device_id": "device-1",
		"scopes":    []string{ScopeSyncRead, ScopeSyncWrite},
		"iss":       testConfig.Issuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
	require.True(t, claims.HasScope(ScopeSyncRead))
	require.True(t, claims.HasScope(ScopeSyncWrite))
	require.False(t, claims.HasScope(ScopeSubscriptionRead))
}

func TestParseRejectsMissingDevice(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":       "user-1",
		"device_id": "device-1",
		"iss":       "someone-else",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":       "user-1",
		"device_id": "device-1",
		"iss":       testConfig.Issuer,
		"exp":       time.Now().Add(-time.Minute).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseScopeFormats(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":       "user-1",
		"device_id": "device-1",
		"scopes":    "sync:read sync:write",
		"iss":       testConfig.Issuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeSyncRead))
	require.True(t, claims.HasScope(ScopeSyncWrite))
}

func TestMiddleware(t *testing.T) {
	var gotClaims *Claims
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := NewMiddleware(testConfig, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})
	wrapped := mw.Wrap(handler)

	t.Run("skipper bypasses auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/download", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token passes claims through", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub":       "user-1",
			"device_id": "device-1",
			"scopes":    []string{ScopeSyncRead},
			"iss":       testConfig.Issuer,
			"exp":       time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest(http.MethodGet, "/api/sync/download", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotClaims)
		require.Equal(t, "device-1", gotClaims.DeviceID)
	})
}

type memoryRefreshStore struct {
	tokens map[string]RefreshToken
}

func newMemoryRefreshStore() *memoryRefreshStore {
	return &memoryRefreshStore{tokens: make(map[string]RefreshToken)}
}

func (m *memoryRefreshStore) SaveRefreshToken(_ context.Context, token RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *memoryRefreshStore) GetRefreshToken(_ context.Context, token string) (RefreshToken, error) {
	stored, ok := m.tokens[token]
	if !ok {
		return RefreshToken{}, ErrRefreshTokenNotFound
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

func TestTokenServiceIssueAndRefresh(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRefreshStore()
	svc := NewTokenService(testConfig, store, time.Minute, time.Hour)

	pair, err := svc.Issue(ctx, "user-1", "device-1", DeviceScopes())
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
	require.True(t, claims.HasScope(ScopeSubscriptionRead))

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old refresh token is single use.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestTokenServiceRejectsExpiredRefresh(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRefreshStore()
	svc := NewTokenService(testConfig, store, time.Minute, time.Hour)

	pair, err := svc.Issue(ctx, "user-1", "device-1", DeviceScopes())
	require.NoError(t, err)

	expired := store.tokens[pair.RefreshToken]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	store.tokens[pair.RefreshToken] = expired

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenExpired)
	require.Empty(t, store.tokens)
}

func TestEvictExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRefreshStore()
	svc := NewTokenService(testConfig, store, time.Minute, time.Hour)

	live, err := svc.Issue(ctx, "user-1", "device-1", DeviceScopes())
	require.NoError(t, err)
	stale, err := svc.Issue(ctx, "user-2", "device-2", DeviceScopes())
	require.NoError(t, err)

	expired := store.tokens[stale.RefreshToken]
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	store.tokens[stale.RefreshToken] = expired

	removed, err := svc.EvictExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	require.Contains(t, store.tokens, live.RefreshToken)
}
