package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/remote"
	"expensemanager/internal/storage"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum attempts before an item is marked failed (default: 5)
	MaxRetries int

	// BaseBackoff is the delay after the first failed attempt; it doubles per
	// attempt up to MaxBackoff (default: 2s, 5m)
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		BaseBackoff:     2 * time.Second,
		MaxBackoff:      5 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// SyncProcessor replays queued tasks against the remote mirror.
type SyncProcessor struct {
	queue  storage.SyncQueue
	mirror remote.Mirror
	config SyncProcessorConfig
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce *sync.Once
}

func NewSyncProcessor(queue storage.SyncQueue, mirror remote.Mirror, config SyncProcessorConfig) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = def.CleanupAge
	}
	return &SyncProcessor{
		queue:  queue,
		mirror: mirror,
		config: config,
		now:    time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.mu.Unlock()

	// Items left processing by a crashed run go back to pending.
	if n, err := p.queue.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "Reset stale processing items", "count", n)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries)

	return nil
}

// Stop gracefully stops the processor and waits for completion. After a
// timeout it may be called again to keep waiting.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh, once := p.stopCh, p.doneCh, p.stopOnce
	p.mu.Unlock()

	once.Do(func() { close(stopCh) })

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.CleanupCompleted(ctx)
		}
	}
}

func (p *SyncProcessor) stopping(ctx context.Context) bool {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return true
	default:
	}
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// ProcessBatch processes one batch of due items and returns how many were
// applied remotely.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	items, err := p.queue.DequeueBatch(ctx, p.config.BatchSize, p.now())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue sync batch", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	applied := 0
	for _, item := range items {
		if p.stopping(ctx) {
			break
		}
		ok, err := p.process(ctx, item)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to process sync item", log.FieldQueueID, item.ID, "error", err)
			continue
		}
		if ok {
			applied++
		}
	}
	return applied
}

// ProcessItem claims and applies one queue item now. An item that is no
// longer pending (already done, or claimed by the poll loop) is not an
// error.
func (p *SyncProcessor) ProcessItem(ctx context.Context, id int64) error {
	item, err := p.queue.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get sync item %d: %w", id, err)
	}
	if item.Status != core.SyncPending {
		slog.DebugContext(ctx, "Sync item already handled", log.FieldQueueID, id, "status", item.Status)
		return nil
	}
	_, err = p.process(ctx, item)
	return err
}

// process claims item and applies it. It reports whether the remote call
// succeeded; the error is only for local queue failures.
func (p *SyncProcessor) process(ctx context.Context, item core.SyncTask) (bool, error) {
	if err := p.queue.MarkProcessing(ctx, item.ID); err != nil {
		if errors.Is(err, storage.ErrSyncItemNotPending) {
			return false, nil
		}
		return false, fmt.Errorf("mark processing: %w", err)
	}

	if applyErr := p.mirror.Apply(ctx, item); applyErr != nil {
		p.handleFailure(ctx, item, applyErr)
		return false, nil
	}
	p.handleSuccess(ctx, item)
	return true, nil
}

func (p *SyncProcessor) handleSuccess(ctx context.Context, item core.SyncTask) {
	if err := p.queue.MarkComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync complete",
			log.FieldQueueID, item.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Synced task to remote",
		log.FieldQueueID, item.ID,
		log.FieldOperation, item.Operation,
		log.FieldUserID, item.UserID)
}

// handleFailure retries with exponential backoff until MaxRetries attempts,
// then marks the item failed.
func (p *SyncProcessor) handleFailure(ctx context.Context, item core.SyncTask, processErr error) {
	attempt := item.Attempts + 1
	slog.WarnContext(ctx, "Sync processing failed",
		log.FieldQueueID, item.ID,
		log.FieldOperation, item.Operation,
		log.FieldAttempt, attempt,
		"error", processErr)

	if attempt >= p.config.MaxRetries {
		if err := p.queue.MarkFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark sync as failed",
				log.FieldQueueID, item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Sync item failed permanently after max retries",
			log.FieldQueueID, item.ID,
			log.FieldUserID, item.UserID,
			"attempts", attempt)
		return
	}

	next := p.now().Add(p.backoff(attempt))
	if err := p.queue.IncrementAttempt(ctx, item.ID, processErr.Error(), next); err != nil {
		slog.ErrorContext(ctx, "Failed to increment sync attempt",
			log.FieldQueueID, item.ID, "error", err)
	}
}

// backoff is BaseBackoff doubled for each attempt after the first, capped at
// MaxBackoff.
func (p *SyncProcessor) backoff(attempt int) time.Duration {
	d := p.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.config.MaxBackoff {
			return p.config.MaxBackoff
		}
	}
	return d
}

// CleanupCompleted removes completed items older than CleanupAge.
func (p *SyncProcessor) CleanupCompleted(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.config.CleanupAge)
	n, err := p.queue.CleanupCompleted(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed syncs", "error", err)
		return 0
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up completed sync items", "count", n)
	}
	return n
}

// Stats returns current queue statistics
func (p *SyncProcessor) Stats(ctx context.Context) (core.SyncStats, error) {
	return p.queue.Stats(ctx)
}

// RetryFailed resets all failed items for retry
func (p *SyncProcessor) RetryFailed(ctx context.Context) (int64, error) {
	n, err := p.queue.RetryFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("retry failed syncs: %w", err)
	}
	return n, nil
}
