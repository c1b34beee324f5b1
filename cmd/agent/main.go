// The packsync agent runs on a device: it keeps the local SQLite store
// synchronized with the cloud API on a fixed interval.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/packsync/internal/auth"
	"example.com/packsync/internal/config"
	"example.com/packsync/internal/premium"
	"example.com/packsync/internal/store"
	"example.com/packsync/internal/store/sqlite"
	syncengine "example.com/packsync/internal/sync"
)

func main() {
	cfg := config.LoadAgent()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}
	defer st.Close()

	deviceID, err := ensureDeviceID(ctx, st)
	if err != nil {
		log.Fatalf("failed to resolve device id: %v", err)
	}

	session := &authSession{}
	client := syncengine.NewClient(cfg.APIBaseURL, syncengine.WithTokenSource(session.token))
	session.client = client
	session.deviceID = deviceID

	premiumService := premium.NewService(client, st, nil)
	engine := syncengine.NewService(client, st, st, premiumService)

	engine.OnStatusChanged(func(status syncengine.Status) {
		log.Printf("sync status: %s", status)
	})

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	log.Printf("packsync agent started, syncing every %s", cfg.SyncInterval)
	runSync(ctx, engine)

	for {
		select {
		case <-ticker.C:
			runSync(ctx, engine)
		case <-shutdownCh:
			cancel()
			return
		}
	}
}

func runSync(ctx context.Context, engine *syncengine.Service) {
	result := engine.Sync(ctx)
	if !result.Success {
		log.Printf("sync failed: %s", result.ErrorMessage)
		return
	}
	log.Printf("sync complete: %d activities, %d items, %d history entries",
		result.ActivitiesSynced, result.ItemsSynced, result.HistoryEntriesSynced)
}

func ensureDeviceID(ctx context.Context, settings store.Settings) (string, error) {
	id, err := settings.GetString(ctx, store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := settings.SetString(ctx, store.KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server error: %v", err)
	}
}

// authSession lazily logs the device in and keeps the access token fresh.
type authSession struct {
	client   *syncengine.Client
	deviceID string

	mu   gosync.Mutex
	pair auth.TokenPair
}

func (s *authSession) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Refresh a minute before expiry to avoid racing the server clock.
	if s.pair.AccessToken != "" && time.Until(s.pair.ExpiresAt) > time.Minute {
		return s.pair.AccessToken
	}

	if s.pair.RefreshToken != "" {
		pair, err := s.client.RefreshAuth(ctx, s.pair.RefreshToken)
		if err == nil {
			s.pair = pair
			return s.pair.AccessToken
		}
		log.Printf("token refresh failed, re-authenticating: %v", err)
	}

	pair, err := s.client.Login(ctx, s.deviceID)
	if err != nil {
		log.Printf("login failed: %v", err)
		return ""
	}
	s.pair = pair
	return s.pair.AccessToken
}
