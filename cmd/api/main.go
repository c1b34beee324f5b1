package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/packsync/internal/api"
	"example.com/packsync/internal/auth"
	"example.com/packsync/internal/config"
	"example.com/packsync/internal/outbox"
	persistence "example.com/packsync/internal/persistence/postgres"
	"example.com/packsync/internal/server"
	httptransport "example.com/packsync/internal/transport/http"
)

func main() {
	cfg := config.LoadAPI()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	authConfig := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	tokens := auth.NewTokenService(authConfig, repo, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	go evictExpiredTokens(ctx, tokens, cfg.TokenEvictInterval)

	service := server.NewService(repo)

	handler := api.NewHandler(service, tokens)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(authConfig, api.AuthSkipper)

	srv := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("packsync api listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

func evictExpiredTokens(ctx context.Context, tokens *auth.TokenService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := tokens.EvictExpired(ctx)
			if err != nil {
				log.Printf("refresh token eviction failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("evicted %d expired refresh tokens", removed)
			}
		}
	}
}
