package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sheetsync/internal/amqp"
	"sheetsync/internal/backend"
	"sheetsync/internal/cache"
	"sheetsync/internal/cli"
	"sheetsync/internal/config"
	apphttp "sheetsync/internal/http"
	applog "sheetsync/internal/log"
	"sheetsync/internal/retry"
	"sheetsync/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger, closer := cli.SetupLogger(cli.LogOptions{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
	defer closer.Close()

	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if backendCfg.Type == backend.SheetsBackend && !cfg.SheetsConfigured() {
		// Requests fail with a configuration error until credentials are set.
		logger.Warn("Google Sheets credentials are incomplete")
	}

	res, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	if res.Cleanup != nil {
		defer res.Cleanup()
	}

	opts := serviceOptions(cfg)

	var snapshots *cache.LRUCache[services.Snapshot]
	caches := cache.NewManager()
	if cfg.SnapshotCacheTTL > 0 {
		snapshots = cache.NewLRUCache[services.Snapshot](cfg.SnapshotCacheSize, cfg.SnapshotCacheTTL)
		caches.Register(snapshots)
	}

	reader := services.NewReadService(res.Provider, opts, snapshots)
	writer := services.NewWriteService(res.Provider, opts)
	writer.OnAcknowledged(func(context.Context, services.WriteResult) { reader.Invalidate() })

	origin := uuid.NewString()
	if res.Events != nil {
		writer.OnAcknowledged(amqp.PublishHook(res.Events, origin))
	}

	srv := apphttp.NewServer(":"+cfg.Port, reader, writer, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready: func(ctx context.Context) error {
			_, err := res.Provider.Store(ctx)
			return err
		},
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
	})

	if snapshots != nil {
		caches.StartCleanup(ctx, cfg.SnapshotCacheTTL)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting sheetsync server",
			"port", cfg.Port,
			"backend", backendCfg.Type,
			"snapshot_cache_ttl", cfg.SnapshotCacheTTL,
			"events", res.Events != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if res.Events != nil {
		events := applog.Scoped(logger.Logger, applog.ComponentAMQP)
		g.Go(func() error {
			err := res.Events.Subscribe(gctx, amqp.InvalidateHandler(origin, reader.Invalidate))
			if err != nil && !errors.Is(err, context.Canceled) {
				// Losing the subscription only costs cross-instance invalidation.
				events.Error("Snapshot event subscription ended", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func serviceOptions(cfg *config.Config) services.Options {
	return services.Options{
		Layout: services.Layout{
			Categories:   cfg.SheetCategories,
			Transactions: cfg.SheetTransactions,
			Recurring:    cfg.SheetRecurring,
			Tags:         cfg.SheetTags,
			Users:        cfg.SheetUsers,
			UserSettings: cfg.SheetUserSettings,
		},
		Retry: retry.Policy{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			JitterPercent: retry.DefaultPolicy().JitterPercent,
		},
		PersistTimeout: cfg.PersistTimeout,
	}
}
