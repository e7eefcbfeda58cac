package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/remote/memory"
	"expensemanager/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(mirror *memory.Mirror, now *time.Time) (*SyncProcessor, *storage.MemorySyncQueue) {
	queue := storage.NewMemorySyncQueue()
	config := DefaultSyncProcessorConfig()
	config.MaxRetries = 3
	p := NewSyncProcessor(queue, mirror, config)
	p.now = func() time.Time { return *now }
	return p, queue
}

func enqueueTask(t *testing.T, q storage.SyncQueue, op core.SyncOperation) int64 {
	t.Helper()
	id, err := q.Enqueue(context.Background(), core.SyncTask{
		Operation: op,
		UserID:    "john_doe",
		User:      core.User{ID: "john_doe", FirstName: "John", LastName: "Doe"},
	})
	require.NoError(t, err)
	return id
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 10*time.Second {
		t.Errorf("expected PollInterval 10s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
	if config.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", config.MaxRetries)
	}
	if config.CleanupInterval != 1*time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", config.CleanupInterval)
	}
	if config.CleanupAge != 24*time.Hour {
		t.Errorf("expected CleanupAge 24h, got %v", config.CleanupAge)
	}
}

func TestNewSyncProcessor_FillsZeroConfig(t *testing.T) {
	p := NewSyncProcessor(storage.NewMemorySyncQueue(), memory.New(), SyncProcessorConfig{BatchSize: 20})

	assert.Equal(t, 20, p.config.BatchSize)
	assert.Equal(t, 10*time.Second, p.config.PollInterval)
	assert.Equal(t, 5, p.config.MaxRetries)
}

func TestSyncProcessor_StartStop(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	mirror := memory.New()
	queue := storage.NewMemorySyncQueue()
	p := NewSyncProcessor(queue, mirror, config)

	assert.False(t, p.IsRunning())
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()), "second start must fail")

	enqueueTask(t, queue, core.SyncCreateUser)
	require.Eventually(t, func() bool { return len(mirror.Applied()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.IsRunning())
	assert.NoError(t, p.Stop(ctx), "stop when not running is a no-op")
}

// blockingMirror holds Apply until release is closed.
type blockingMirror struct {
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMirror) Apply(context.Context, core.SyncTask) error {
	close(m.entered)
	<-m.release
	return nil
}

func TestSyncProcessor_StopAfterTimeout(t *testing.T) {
	mirror := &blockingMirror{entered: make(chan struct{}), release: make(chan struct{})}
	queue := storage.NewMemorySyncQueue()
	enqueueTask(t, queue, core.SyncCreateUser)
	p := NewSyncProcessor(queue, mirror, DefaultSyncProcessorConfig())

	require.NoError(t, p.Start(context.Background()))
	<-mirror.entered

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := p.Stop(ctx)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, p.IsRunning())
	}

	close(mirror.release)
	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.IsRunning())
}

func TestSyncProcessor_ProcessBatchSuccess(t *testing.T) {
	now := time.Now().Add(time.Second)
	mirror := memory.New()
	p, queue := newTestProcessor(mirror, &now)

	enqueueTask(t, queue, core.SyncCreateUser)
	enqueueTask(t, queue, core.SyncCredit)

	assert.Equal(t, 2, p.ProcessBatch(context.Background()))
	assert.Len(t, mirror.Applied(), 2)

	stats, err := p.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.SyncStats{Completed: 2}, stats)
}

func TestSyncProcessor_RetriesWithBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Add(time.Second)
	mirror := memory.New()
	mirror.FailNext(3, errors.New("backend down"))
	p, queue := newTestProcessor(mirror, &now)

	id := enqueueTask(t, queue, core.SyncDebit)

	assert.Equal(t, 0, p.ProcessBatch(ctx))
	task, err := queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.SyncPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, now.Add(2*time.Second), task.NextAttemptAt)
	assert.Contains(t, task.LastError, "backend down")

	// Not due yet.
	assert.Equal(t, 0, p.ProcessBatch(ctx))
	assert.Equal(t, 1, mustGet(t, queue, id).Attempts)

	now = now.Add(2 * time.Second)
	p.ProcessBatch(ctx)
	task = mustGet(t, queue, id)
	assert.Equal(t, 2, task.Attempts)
	assert.Equal(t, now.Add(4*time.Second), task.NextAttemptAt)

	now = now.Add(4 * time.Second)
	p.ProcessBatch(ctx)
	assert.Equal(t, core.SyncFailed, mustGet(t, queue, id).Status)

	n, err := p.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, 1, p.ProcessBatch(ctx))
	assert.Equal(t, core.SyncCompleted, mustGet(t, queue, id).Status)
}

func mustGet(t *testing.T, q storage.SyncQueue, id int64) core.SyncTask {
	t.Helper()
	task, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestSyncProcessor_ProcessItem(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Add(time.Second)
	mirror := memory.New()
	p, queue := newTestProcessor(mirror, &now)

	id := enqueueTask(t, queue, core.SyncDeleteUser)
	require.NoError(t, p.ProcessItem(ctx, id))
	assert.Equal(t, core.SyncCompleted, mustGet(t, queue, id).Status)

	// A settled item is skipped silently.
	require.NoError(t, p.ProcessItem(ctx, id))
	assert.Len(t, mirror.Applied(), 1)

	err := p.ProcessItem(ctx, id+99)
	assert.ErrorIs(t, err, storage.ErrSyncItemNotFound)
}

func TestSyncProcessor_Backoff(t *testing.T) {
	p := NewSyncProcessor(nil, nil, SyncProcessorConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSyncProcessor_CleanupCompleted(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Add(time.Second)
	p, queue := newTestProcessor(memory.New(), &now)

	enqueueTask(t, queue, core.SyncCredit)
	p.ProcessBatch(ctx)

	assert.Equal(t, int64(0), p.CleanupCompleted(ctx), "fresh items are kept")

	now = now.Add(25 * time.Hour)
	assert.Equal(t, int64(1), p.CleanupCompleted(ctx))
}
