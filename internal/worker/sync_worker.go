// Package worker drives the sync processor from AMQP notifications and a
// maintenance schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"expensemanager/internal/amqp"
	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/storage"

	"github.com/robfig/cron/v3"
)

// Processor is the part of services.SyncProcessor the worker drives.
type Processor interface {
	ProcessItem(ctx context.Context, id int64) error
	ProcessBatch(ctx context.Context) int
	CleanupCompleted(ctx context.Context) int64
	RetryFailed(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (core.SyncStats, error)
}

const (
	cleanupSchedule = "@hourly"
	retrySchedule   = "@daily"
)

type SyncWorker struct {
	processor Processor
}

func NewSyncWorker(processor Processor) *SyncWorker {
	return &SyncWorker{processor: processor}
}

// HandleSyncMessage processes the queue item named by msg right away.
// Returning an error requeues the message; items that vanished from the
// queue are acknowledged.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SyncMessage) error {
	slog.DebugContext(ctx, "Processing sync message",
		log.FieldQueueID, msg.QueueID,
		log.FieldOperation, msg.Operation,
		log.FieldUserID, msg.UserID)

	err := w.processor.ProcessItem(ctx, msg.QueueID)
	if errors.Is(err, storage.ErrSyncItemNotFound) {
		slog.WarnContext(ctx, "Sync message for unknown queue item, dropping", log.FieldQueueID, msg.QueueID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process sync item %d: %w", msg.QueueID, err)
	}
	return nil
}

// StartupSyncCheck reports the queue state and drains one batch, so work
// queued while the worker was down does not wait for the first poll.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	stats, err := w.processor.Stats(ctx)
	if err != nil {
		return fmt.Errorf("sync queue stats: %w", err)
	}
	slog.InfoContext(ctx, "Sync queue state at startup",
		"pending", stats.Pending,
		"processing", stats.Processing,
		"completed", stats.Completed,
		"failed", stats.Failed)

	if stats.Pending > 0 {
		n := w.processor.ProcessBatch(ctx)
		slog.InfoContext(ctx, "Startup sync batch processed", "synced", n)
	}
	return nil
}

// Schedule registers queue maintenance on c: hourly cleanup of completed
// items and a daily retry of failed ones.
func (w *SyncWorker) Schedule(ctx context.Context, c *cron.Cron) error {
	if _, err := c.AddFunc(cleanupSchedule, func() { w.processor.CleanupCompleted(ctx) }); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	if _, err := c.AddFunc(retrySchedule, func() { w.retryFailed(ctx) }); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (w *SyncWorker) retryFailed(ctx context.Context) {
	n, err := w.processor.RetryFailed(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to retry failed sync items", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Requeued failed sync items", "count", n)
	}
}
