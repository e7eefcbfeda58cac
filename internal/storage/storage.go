// Package storage persists ledger snapshots and the remote sync queue.
package storage

import (
	"context"
	"errors"
	"time"

	"expensemanager/internal/core"
)

var (
	// ErrVersionConflict is returned by Save when the stored snapshot moved
	// past the expected version.
	ErrVersionConflict = errors.New("snapshot version conflict")
	// ErrSyncItemNotFound is returned for an unknown queue id.
	ErrSyncItemNotFound = errors.New("sync item not found")
	// ErrSyncItemNotPending is returned by MarkProcessing when another
	// processor already claimed the item or it is settled.
	ErrSyncItemNotPending = errors.New("sync item not pending")
)

// SnapshotStore keeps named blobs with compare-and-swap versioning.
type SnapshotStore interface {
	// Load returns the blob and its version; a missing snapshot is
	// (nil, 0, nil).
	Load(ctx context.Context, name string) ([]byte, int64, error)
	// Save writes data if the stored version still equals expected (0 for a
	// new snapshot) and returns the new version.
	Save(ctx context.Context, name string, data []byte, expected int64) (int64, error)
}

// SyncQueue is the durable list of pending mirror calls.
type SyncQueue interface {
	Enqueue(ctx context.Context, task core.SyncTask) (int64, error)
	Get(ctx context.Context, id int64) (core.SyncTask, error)
	// DequeueBatch returns up to limit pending items due at now, oldest
	// first. It does not claim them.
	DequeueBatch(ctx context.Context, limit int, now time.Time) ([]core.SyncTask, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkComplete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastErr string) error
	// IncrementAttempt records a failed attempt and puts the item back to
	// pending until next.
	IncrementAttempt(ctx context.Context, id int64, lastErr string, next time.Time) error
	Stats(ctx context.Context) (core.SyncStats, error)
	RetryFailed(ctx context.Context) (int64, error)
	ResetStaleProcessing(ctx context.Context) (int64, error)
	CleanupCompleted(ctx context.Context, before time.Time) (int64, error)
}

// syncPayload is the serialized part of a task.
type syncPayload struct {
	User        core.User         `json:"user"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
}
