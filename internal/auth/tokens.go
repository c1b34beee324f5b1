package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrRefreshTokenNotFound is returned when a refresh token is unknown.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// ErrRefreshTokenExpired is returned when a refresh token is past its
// expiry. The token is removed from the store before this is returned.
var ErrRefreshTokenExpired = errors.New("refresh token expired")

// RefreshToken is an opaque, server-side credential used to mint new
// access tokens without re-authenticating.
type RefreshToken struct {
	Token     string
	UserID    string
	DeviceID  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshTokenStore persists refresh tokens durably.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	// DeleteExpiredRefreshTokens evicts every token past its expiry and
	// reports how many were removed.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// TokenPair is what login and refresh hand back to the device.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TokenService mints access tokens and rotates refresh tokens.
type TokenService struct {
	cfg        Config
	store      RefreshTokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService. Zero TTLs fall back to
// 15 minutes for access tokens and 30 days for refresh tokens.
func NewTokenService(cfg Config, store RefreshTokenStore, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{
		cfg:        cfg,
		store:      store,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates a fresh token pair for the given user and device.
func (s *TokenService) Issue(ctx context.Context, userID, deviceID string, scopes []string) (TokenPair, error) {
	now := s.now().UTC()

	access, expiresAt, err := s.mintAccessToken(userID, deviceID, scopes, now)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		DeviceID:  deviceID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the refresh
// token. Expired tokens are deleted and rejected.
func (s *TokenService) Refresh(ctx context.Context, token string) (TokenPair, error) {
	stored, err := s.store.GetRefreshToken(ctx, token)
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now().UTC()
	if !stored.ExpiresAt.After(now) {
		if err := s.store.DeleteRefreshToken(ctx, token); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrRefreshTokenExpired
	}

	if err := s.store.DeleteRefreshToken(ctx, token); err != nil {
		return TokenPair{}, err
	}
	return s.Issue(ctx, stored.UserID, stored.DeviceID, DeviceScopes())
}

// EvictExpired removes refresh tokens past their expiry.
func (s *TokenService) EvictExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredRefreshTokens(ctx, s.now().UTC())
}

func (s *TokenService) mintAccessToken(userID, deviceID string, scopes []string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.accessTTL)
	claims := jwt.MapClaims{
		"sub":       userID,
		"device_id": deviceID,
		"scopes":    scopes,
		"iss":       s.cfg.Issuer,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
