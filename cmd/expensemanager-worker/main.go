package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"expensemanager/internal/backend"
	"expensemanager/internal/cli"
	"expensemanager/internal/config"
	"expensemanager/internal/log"
	"expensemanager/internal/worker"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.DataBackend == string(backend.MemoryBackend) {
		return errors.New("the worker needs a shared sync queue: use the sqlite or mongo backend")
	}

	logger.Info("Starting expensemanager-worker", "backend", cfg.DataBackend, "mirror", cfg.Mirror)

	ctx, cancel := cli.GracefulShutdown(context.Background(), logger)
	defer cancel()

	res, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Failed to close backend", "error", err)
		}
	}()

	processor := res.NewSyncProcessor(cli.SyncProcessorConfig(cfg))
	syncWorker := worker.NewSyncWorker(processor)

	// Work queued while the worker was down is drained before the first poll.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("start sync processor: %w", err)
	}

	scheduler := cron.New()
	if err := syncWorker.Schedule(ctx, scheduler); err != nil {
		return err
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	if res.AMQP != nil {
		g.Go(func() error {
			err := res.AMQP.ConsumeWithReconnect(gctx, syncWorker.HandleSyncMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("consume sync messages: %w", err)
		})
	} else {
		logger.Info("AMQP disabled, relying on the poll loop", "interval", cfg.SyncInterval)
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	logger.Info("Shutting down worker...")
	shutdownErr := cli.RunShutdown(logger, shutdownTimeout,
		processor.Stop,
		func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	)
	return errors.Join(err, shutdownErr)
}
