package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"expensemanager/internal/backend"
	"expensemanager/internal/cache"
	"expensemanager/internal/cli"
	"expensemanager/internal/config"
	apphttp "expensemanager/internal/http"
	"expensemanager/internal/log"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, cancel := cli.GracefulShutdown(context.Background(), logger)
	defer cancel()

	res, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}

	srv := apphttp.NewServer(":"+cfg.Port, res.Service,
		apphttp.WithReadiness(res.Ready),
		apphttp.WithLogger(logger.WithComponent(log.ComponentHTTP)))

	caches := cache.NewManager()
	caches.Register(res.Sessions.Cache())
	caches.Register(srv.Limiter().Cache())
	caches.StartCleanup(cacheCleanupInterval)

	// A memory queue is only visible to this process, so nobody else can
	// drain it.
	var processorStop func(context.Context) error
	if cfg.DataBackend == string(backend.MemoryBackend) {
		processor := res.NewSyncProcessor(cli.SyncProcessorConfig(cfg))
		if err := processor.Start(ctx); err != nil {
			return fmt.Errorf("start sync processor: %w", err)
		}
		processorStop = processor.Stop
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expensemanager server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"mirror", cfg.Mirror,
			"amqp", res.AMQP != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		return cli.RunShutdown(logger, shutdownTimeout,
			srv.Shutdown,
			processorStop,
			func(context.Context) error {
				caches.Stop()
				return nil
			},
			func(context.Context) error { return res.Cleanup() },
		)
	})

	return g.Wait()
}
