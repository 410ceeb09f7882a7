package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mrkniai/backend/internal/auth"
	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/config"
	"github.com/mrkniai/backend/internal/db"
	"github.com/mrkniai/backend/internal/generation"
	"github.com/mrkniai/backend/internal/handlers"
	"github.com/mrkniai/backend/internal/history"
	"github.com/mrkniai/backend/internal/middleware"
	"github.com/mrkniai/backend/internal/replicate"
	"github.com/mrkniai/backend/internal/repositories"
	"github.com/mrkniai/backend/internal/statuscache"
	"github.com/mrkniai/backend/internal/storage"
)

// buildDependencies assembles the HTTP collaborators. The returned cleanup stops the
// background worker and releases the status cache.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	generations := repositories.NewPostgresGenerationRepository(pool)
	credits := repositories.NewPostgresCreditRepository(pool)
	subscriptions := repositories.NewPostgresSubscriptionRepository(pool)

	if cfg.Replicate.APIToken == "" {
		logger.Warn("REPLICATE_API_TOKEN is not set; generation requests will fail")
	}
	provider := replicate.NewClient(cfg.Replicate.APIToken,
		replicate.WithBaseURL(cfg.Replicate.BaseURL),
		replicate.WithHTTPClient(&http.Client{Timeout: cfg.Replicate.Timeout}),
	)

	var closers []func() error
	cache := statusCache(ctx, cfg.Redis, logger, &closers)
	status := statuscache.NewCachingClient(provider, cache, cfg.Polling.StatusCacheTTL, cfg.Polling.PendingStatusTTL)

	var assets generation.AssetStore
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Error("object storage unavailable; keeping provider urls", "bucket", cfg.ObjectStore.Bucket, "error", err)
		} else {
			assets = s3Store
		}
	} else {
		logger.Info("no object storage bucket configured; keeping provider urls")
	}

	worker := generation.NewWorker(
		generation.NewPoller(status, cfg.Polling.Interval, cfg.Polling.ImageMaxAttempts),
		generation.NewMaterializer(assets, &http.Client{Timeout: cfg.Polling.MaterializeTimeout}),
		generations,
		generation.WorkerConfig{
			QueueSize: cfg.Worker.QueueSize,
			Workers:   cfg.Worker.Workers,
			Slack:     cfg.Polling.MaterializeTimeout,
		},
		logger,
	)

	service := generation.NewService(generation.Dependencies{
		Generations:      generations,
		Credits:          credits,
		Subscriptions:    subscriptions,
		Provider:         provider,
		Status:           status,
		Queue:            worker,
		PollInterval:     cfg.Polling.Interval,
		VideoMaxAttempts: cfg.Polling.VideoMaxAttempts,
	})

	manager := billing.NewManager(subscriptions, credits)
	webhook := billing.NewWebhookHandler(manager, cfg.Stripe.WebhookSecret, cfg.Stripe.BasicPriceID, cfg.Stripe.PremiumPriceID)
	if !webhook.Enabled() {
		logger.Info("STRIPE_WEBHOOK_SECRET is not set; billing webhook disabled")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if !verifier.Configured() {
		logger.Warn("MRKNIAI_JWT_SECRET is not set; authenticated routes will reject every request")
	}

	deps := handlers.Dependencies{
		Generations:   service,
		History:       history.NewReader(generations),
		Subscriptions: manager,
		Webhook:       webhook,
		Verifier:      verifier,
		Limiter:       middleware.NewKeyedRateLimiter(cfg.RateLimit),
		DB:            pool,
		IsAdmin:       cfg.IsAdmin,
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := worker.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return deps, cleanup, nil
}

// statusCache prefers Redis so instances share prediction state, falling back to memory.
func statusCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger, closers *[]func() error) statuscache.Cache {
	if cfg.Address == "" {
		return statuscache.NewMemoryCache()
	}
	cache, err := statuscache.NewRedisCache(ctx, cfg)
	if err != nil {
		logger.Warn("redis unavailable; using in-process status cache", "addr", cfg.Address, "error", err)
		return statuscache.NewMemoryCache()
	}
	*closers = append(*closers, cache.Close)
	return cache
}
