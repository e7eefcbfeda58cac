package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"expensemanager/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores snapshots and the sync queue in one SQLite file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite storage ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Load implements SnapshotStore.
func (r *SQLiteRepository) Load(ctx context.Context, name string) ([]byte, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT data, version FROM snapshots WHERE name = ?`, name).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return data, version, nil
}

// Save implements SnapshotStore.
func (r *SQLiteRepository) Save(ctx context.Context, name string, data []byte, expected int64) (int64, error) {
	now := r.now().UnixMilli()

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO snapshots (name, data, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(name) DO NOTHING`, name, data, now)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE snapshots SET data = ?, version = version + 1, updated_at = ?
			 WHERE name = ? AND version = ?`, data, now, name, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("save snapshot %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save snapshot %s: %w", name, err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return expected + 1, nil
}

const syncColumns = `id, operation, user_id, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

// Enqueue implements SyncQueue.
func (r *SQLiteRepository) Enqueue(ctx context.Context, task core.SyncTask) (int64, error) {
	payload, err := json.Marshal(syncPayload{User: task.User.Public(), Transaction: task.Transaction})
	if err != nil {
		return 0, fmt.Errorf("encode sync payload: %w", err)
	}

	now := r.now()
	next := task.NextAttemptAt
	if next.IsZero() {
		next = now
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_queue (operation, user_id, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', 0, '', ?, ?, ?)`,
		string(task.Operation), task.UserID, string(payload), next.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("enqueue sync item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue sync item: %w", err)
	}
	return id, nil
}

// Get implements SyncQueue.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.SyncTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_queue WHERE id = ?`, id)
	task, err := scanSyncTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SyncTask{}, ErrSyncItemNotFound
	}
	if err != nil {
		return core.SyncTask{}, fmt.Errorf("get sync item %d: %w", id, err)
	}
	return task, nil
}

// DequeueBatch implements SyncQueue.
func (r *SQLiteRepository) DequeueBatch(ctx context.Context, limit int, now time.Time) ([]core.SyncTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM sync_queue
		 WHERE status = 'pending' AND next_attempt_at <= ?
		 ORDER BY id LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue sync batch: %w", err)
	}
	defer rows.Close()

	var tasks []core.SyncTask
	for rows.Next() {
		task, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue sync batch: %w", err)
	}
	return tasks, nil
}

// MarkProcessing claims a pending item.
func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		r.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark sync processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrSyncItemNotPending
	}
	return nil
}

func (r *SQLiteRepository) MarkComplete(ctx context.Context, id int64) error {
	return r.execOne(ctx, "mark sync complete",
		`UPDATE sync_queue SET status = 'completed', last_error = '', updated_at = ? WHERE id = ?`,
		r.now().UnixMilli(), id)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	return r.execOne(ctx, "mark sync failed",
		`UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastErr, r.now().UnixMilli(), id)
}

func (r *SQLiteRepository) IncrementAttempt(ctx context.Context, id int64, lastErr string, next time.Time) error {
	return r.execOne(ctx, "increment sync attempt",
		`UPDATE sync_queue SET status = 'pending', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		lastErr, next.UnixMilli(), r.now().UnixMilli(), id)
}

func (r *SQLiteRepository) Stats(ctx context.Context) (core.SyncStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return core.SyncStats{}, fmt.Errorf("get sync queue stats: %w", err)
	}
	defer rows.Close()

	var stats core.SyncStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return core.SyncStats{}, fmt.Errorf("scan sync queue stats: %w", err)
		}
		switch core.SyncStatus(status) {
		case core.SyncPending:
			stats.Pending = n
		case core.SyncProcessing:
			stats.Processing = n
		case core.SyncCompleted:
			stats.Completed = n
		case core.SyncFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (r *SQLiteRepository) RetryFailed(ctx context.Context) (int64, error) {
	now := r.now().UnixMilli()
	return r.execCount(ctx, "retry failed syncs",
		`UPDATE sync_queue SET status = 'pending', attempts = 0, next_attempt_at = ?, updated_at = ? WHERE status = 'failed'`,
		now, now)
}

func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) (int64, error) {
	return r.execCount(ctx, "reset stale processing",
		`UPDATE sync_queue SET status = 'pending', updated_at = ? WHERE status = 'processing'`,
		r.now().UnixMilli())
}

func (r *SQLiteRepository) CleanupCompleted(ctx context.Context, before time.Time) (int64, error) {
	return r.execCount(ctx, "cleanup completed syncs",
		`DELETE FROM sync_queue WHERE status = 'completed' AND updated_at < ?`,
		before.UnixMilli())
}

func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	n, err := r.execCount(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSyncItemNotFound
	}
	return nil
}

func (r *SQLiteRepository) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncTask(row rowScanner) (core.SyncTask, error) {
	var (
		task                          core.SyncTask
		operation, status, payload    string
		nextAttempt, created, updated int64
	)
	err := row.Scan(&task.ID, &operation, &task.UserID, &payload, &status,
		&task.Attempts, &task.LastError, &nextAttempt, &created, &updated)
	if err != nil {
		return core.SyncTask{}, err
	}

	var p syncPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return core.SyncTask{}, fmt.Errorf("decode sync payload %d: %w", task.ID, err)
	}

	task.Operation = core.SyncOperation(operation)
	task.Status = core.SyncStatus(status)
	task.User = p.User
	task.Transaction = p.Transaction
	task.NextAttemptAt = time.UnixMilli(nextAttempt)
	task.CreatedAt = time.UnixMilli(created)
	task.UpdatedAt = time.UnixMilli(updated)
	return task, nil
}
