package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"expensemanager/internal/core"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	data map[string]memorySnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string]memorySnapshot)}
}

func (s *MemorySnapshotStore) Load(_ context.Context, name string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[name]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), snap.data...), snap.version, nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, name string, data []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[name].version != expected {
		return 0, ErrVersionConflict
	}
	next := expected + 1
	s.data[name] = memorySnapshot{data: append([]byte(nil), data...), version: next}
	return next, nil
}

// MemorySyncQueue is a SyncQueue for tests and single-process setups.
type MemorySyncQueue struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]core.SyncTask
	now    func() time.Time
}

func NewMemorySyncQueue() *MemorySyncQueue {
	return &MemorySyncQueue{items: make(map[int64]core.SyncTask), now: time.Now}
}

func (q *MemorySyncQueue) Enqueue(_ context.Context, task core.SyncTask) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	now := q.now()
	task.ID = q.nextID
	task.Status = core.SyncPending
	task.Attempts = 0
	task.LastError = ""
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}
	q.items[task.ID] = task
	return task.ID, nil
}

func (q *MemorySyncQueue) Get(_ context.Context, id int64) (core.SyncTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.items[id]
	if !ok {
		return core.SyncTask{}, ErrSyncItemNotFound
	}
	return task, nil
}

func (q *MemorySyncQueue) DequeueBatch(_ context.Context, limit int, now time.Time) ([]core.SyncTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []core.SyncTask
	for _, task := range q.items {
		if task.Status == core.SyncPending && !task.NextAttemptAt.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *MemorySyncQueue) MarkProcessing(_ context.Context, id int64) error {
	return q.update(id, func(task *core.SyncTask) error {
		if task.Status != core.SyncPending {
			return ErrSyncItemNotPending
		}
		task.Status = core.SyncProcessing
		return nil
	})
}

func (q *MemorySyncQueue) MarkComplete(_ context.Context, id int64) error {
	return q.update(id, func(task *core.SyncTask) error {
		task.Status = core.SyncCompleted
		task.LastError = ""
		return nil
	})
}

func (q *MemorySyncQueue) MarkFailed(_ context.Context, id int64, lastErr string) error {
	return q.update(id, func(task *core.SyncTask) error {
		task.Status = core.SyncFailed
		task.Attempts++
		task.LastError = lastErr
		return nil
	})
}

func (q *MemorySyncQueue) IncrementAttempt(_ context.Context, id int64, lastErr string, next time.Time) error {
	return q.update(id, func(task *core.SyncTask) error {
		task.Status = core.SyncPending
		task.Attempts++
		task.LastError = lastErr
		task.NextAttemptAt = next
		return nil
	})
}

func (q *MemorySyncQueue) Stats(_ context.Context) (core.SyncStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats core.SyncStats
	for _, task := range q.items {
		switch task.Status {
		case core.SyncPending:
			stats.Pending++
		case core.SyncProcessing:
			stats.Processing++
		case core.SyncCompleted:
			stats.Completed++
		case core.SyncFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (q *MemorySyncQueue) RetryFailed(_ context.Context) (int64, error) {
	return q.transition(core.SyncFailed, func(task *core.SyncTask, now time.Time) {
		task.Status = core.SyncPending
		task.Attempts = 0
		task.NextAttemptAt = now
	}), nil
}

func (q *MemorySyncQueue) ResetStaleProcessing(_ context.Context) (int64, error) {
	return q.transition(core.SyncProcessing, func(task *core.SyncTask, _ time.Time) {
		task.Status = core.SyncPending
	}), nil
}

func (q *MemorySyncQueue) CleanupCompleted(_ context.Context, before time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for id, task := range q.items {
		if task.Status == core.SyncCompleted && task.UpdatedAt.Before(before) {
			delete(q.items, id)
			n++
		}
	}
	return n, nil
}

func (q *MemorySyncQueue) update(id int64, fn func(*core.SyncTask) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.items[id]
	if !ok {
		return ErrSyncItemNotFound
	}
	if err := fn(&task); err != nil {
		return err
	}
	task.UpdatedAt = q.now()
	q.items[id] = task
	return nil
}

func (q *MemorySyncQueue) transition(from core.SyncStatus, fn func(*core.SyncTask, time.Time)) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var n int64
	for id, task := range q.items {
		if task.Status != from {
			continue
		}
		fn(&task, now)
		task.UpdatedAt = now
		q.items[id] = task
		n++
	}
	return n
}
