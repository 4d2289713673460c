// Package main is the entrypoint for the quota and sharing API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/handler"
	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/config"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/counter"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/notify"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/quota"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/sharing"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis counter store
	counters, err := counter.NewRedisCounter(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis counter store: %w", err)
	}
	defer counters.Close()

	if err := counters.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect the notifier. NATS is optional; without it events go to
	// the log.
	notifier, closeNotifier, err := buildNotifier(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer closeNotifier()

	// 6. Create store and engines
	pgStore := store.NewPostgresStore(pool)

	quotaEngine := quota.New(pgStore, counters, notifier, quota.Options{
		FlushEvery:       cfg.Quota.FlushEvery,
		FlushProbability: cfg.Quota.FlushProbability,
		ThrottleDelay:    cfg.Quota.ThrottleDelay,
	})

	sharingEngine, err := sharing.New(pgStore, notifier, nil)
	if err != nil {
		return fmt.Errorf("create sharing engine: %w", err)
	}

	// 7. Start the scheduled reset sweep
	go resetSweep(ctx, quotaEngine, cfg.Quota.ResetSweepInterval)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:  mw.NewAuth(pgStore),
		Quota: mw.NewQuota(quotaEngine),

		HealthHandler: healthHandler(pgStore, counters),

		ListQuotasHandler:       handler.NewListQuotasHandler(quotaEngine),
		QuotaUsageHandler:       handler.NewQuotaUsageHandler(quotaEngine),
		CheckQuotaHandler:       handler.NewCheckQuotaHandler(quotaEngine),
		UpdateQuotaLimitHandler: handler.NewUpdateQuotaLimitHandler(quotaEngine),
		InitializeQuotasHandler: handler.NewInitializeQuotasHandler(quotaEngine),
		UpdateTierHandler:       handler.NewUpdateTierHandler(quotaEngine),

		CreatePolicyHandler:  handler.NewCreatePolicyHandler(sharingEngine),
		ListPoliciesHandler:  handler.NewListPoliciesHandler(sharingEngine),
		GetPolicyHandler:     handler.NewGetPolicyHandler(sharingEngine),
		UpdatePolicyHandler:  handler.NewUpdatePolicyHandler(sharingEngine),
		DeletePolicyHandler:  handler.NewDeletePolicyHandler(sharingEngine),
		RequestAccessHandler: handler.NewRequestAccessHandler(sharingEngine),
		ApproveHandler:       handler.NewApproveAccessHandler(sharingEngine),
		RejectHandler:        handler.NewRejectAccessHandler(sharingEngine),
		RevokeHandler:        handler.NewRevokeAccessHandler(sharingEngine),
		HasAccessHandler:     handler.NewHasAccessHandler(sharingEngine),
		TrackUsageHandler:    handler.NewTrackUsageHandler(sharingEngine),
		SharingUsageHandler:  handler.NewSharingUsageHandler(sharingEngine),

		CreateListingHandler:   handler.NewCreateListingHandler(sharingEngine),
		ListMarketplaceHandler: handler.NewListMarketplaceHandler(sharingEngine),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func buildNotifier(natsURL string) (notify.Notifier, func(), error) {
	if natsURL == "" {
		slog.Info("NATS_URL not set, events will be logged")
		return notify.LogNotifier{}, func() {}, nil
	}
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("nats connected", "url", natsURL)
	return notify.NewNATSNotifier(nc), nc.Close, nil
}

// resetSweep periodically resets quotas whose reset time has passed. Sweeps
// are idempotent, so overlapping instances are harmless.
func resetSweep(ctx context.Context, engine *quota.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			resets, err := engine.PerformScheduledResets(ctx, now.UTC())
			if err != nil {
				slog.Error("scheduled reset sweep failed", "error", err)
				continue
			}
			if resets > 0 {
				slog.Info("scheduled reset sweep completed", "resets", resets)
			}
		}
	}
}

// healthHandler checks database and counter-store connectivity.
func healthHandler(s store.Store, c counter.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"counters": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["counters"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["counters"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
