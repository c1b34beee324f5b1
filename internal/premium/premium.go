// Package premium caches the user's subscription entitlement so sync
// operations can be gated without hammering the validation endpoint.
package premium

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"example.com/packsync/internal/store"
)

// CacheDuration bounds how long a validated status is trusted before the
// endpoint is consulted again.
const CacheDuration = 30 * time.Minute

// Status is the subscription state reported by the validation endpoint.
type Status struct {
	IsPremium        bool       `json:"isPremium"`
	ExpirationDate   *time.Time `json:"expirationDate,omitempty"`
	SubscriptionTier string     `json:"subscriptionTier,omitempty"`
	IsTrialActive    bool       `json:"isTrialActive"`
	DaysRemaining    *int       `json:"daysRemaining,omitempty"`
}

// Validator calls the remote subscription validation endpoint.
type Validator interface {
	ValidateSubscription(ctx context.Context) (Status, error)
}

// StatusListener is invoked synchronously when the cached premium flag
// changes value.
type StatusListener func(isPremium bool, expiration *time.Time)

// Service is the premium status cache. It degrades to the last known
// value on transport failure and never raises errors to callers.
type Service struct {
	validator Validator
	settings  store.Settings
	logger    *log.Logger

	mu          sync.Mutex
	cached      *bool
	expiration  *time.Time
	lastChecked time.Time
	listeners   []StatusListener
}

// NewService constructs the cache and loads any persisted status. A nil
// logger falls back to a default stderr logger.
func NewService(validator Validator, settings store.Settings, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[premium] ", log.LstdFlags)
	}
	s := &Service{
		validator: validator,
		settings:  settings,
		logger:    logger,
	}
	s.loadCached()
	return s
}

// OnStatusChanged registers a listener for premium flag changes.
func (s *Service) OnStatusChanged(l StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// IsPremium returns the cached flag while it is fresh, refreshing from
// the validation endpoint otherwise. A cached subscription whose
// expiration has passed is downgraded immediately without a network call.
func (s *Service) IsPremium(ctx context.Context) bool {
	now := time.Now().UTC()

	s.mu.Lock()
	if s.cached != nil && now.Sub(s.lastChecked) < CacheDuration {
		if s.expiration != nil && s.expiration.Before(now) {
			downgraded := false
			s.cached = &downgraded
			s.saveCachedLocked(ctx)
			s.mu.Unlock()
			return false
		}
		v := *s.cached
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Refresh validates against the remote endpoint and updates the cache.
// On transport failure the last known value is returned (false if the
// status was never cached).
func (s *Service) Refresh(ctx context.Context) bool {
	status, err := s.validator.ValidateSubscription(ctx)
	if err != nil {
		s.logger.Printf("WARNING: failed to refresh premium status, using cached value: %v", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cached != nil {
			return *s.cached
		}
		return false
	}

	s.mu.Lock()
	previous := s.cached
	isPremium := status.IsPremium
	s.cached = &isPremium
	s.expiration = status.ExpirationDate
	s.lastChecked = time.Now().UTC()
	s.saveCachedLocked(ctx)

	changed := previous == nil || *previous != isPremium
	var listeners []StatusListener
	var expiration *time.Time
	if changed {
		listeners = append(listeners, s.listeners...)
		expiration = s.expiration
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(isPremium, expiration)
	}

	return isPremium
}

// Expiration returns the cached expiration date, refreshing first when
// the cache window has lapsed.
func (s *Service) Expiration(ctx context.Context) *time.Time {
	s.mu.Lock()
	if s.expiration != nil && time.Now().UTC().Sub(s.lastChecked) < CacheDuration {
		exp := *s.expiration
		s.mu.Unlock()
		return &exp
	}
	s.mu.Unlock()

	s.Refresh(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiration == nil {
		return nil
	}
	exp := *s.expiration
	return &exp
}

func (s *Service) loadCached() {
	ctx := context.Background()

	raw, err := s.settings.GetString(ctx, store.KeyPremiumStatus)
	if err != nil {
		s.logger.Printf("WARNING: failed to load cached premium status: %v", err)
		return
	}
	if raw != "" {
		v, err := strconv.ParseBool(raw)
		if err == nil {
			s.cached = &v
		}
	}

	if ticks, err := s.settings.GetInt64(ctx, store.KeyPremiumExpiration); err == nil && ticks > 0 {
		t := time.Unix(0, ticks).UTC()
		s.expiration = &t
	}

	if ticks, err := s.settings.GetInt64(ctx, store.KeyPremiumLastCheck); err == nil && ticks > 0 {
		s.lastChecked = time.Unix(0, ticks).UTC()
	}
}

func (s *Service) saveCachedLocked(ctx context.Context) {
	cached := false
	if s.cached != nil {
		cached = *s.cached
	}
	var expTicks int64
	if s.expiration != nil {
		expTicks = s.expiration.UnixNano()
	}

	if err := s.settings.SetString(ctx, store.KeyPremiumStatus, strconv.FormatBool(cached)); err != nil {
		s.logger.Printf("WARNING: failed to persist premium status: %v", err)
	}
	if err := s.settings.SetInt64(ctx, store.KeyPremiumExpiration, expTicks); err != nil {
		s.logger.Printf("WARNING: failed to persist premium expiration: %v", err)
	}
	if err := s.settings.SetInt64(ctx, store.KeyPremiumLastCheck, s.lastChecked.UnixNano()); err != nil {
		s.logger.Printf("WARNING: failed to persist premium last check: %v", err)
	}
}
