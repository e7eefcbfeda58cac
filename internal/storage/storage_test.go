package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"expensemanager/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type backend interface {
	SnapshotStore
	SyncQueue
}

type memoryBackend struct {
	*MemorySnapshotStore
	*MemorySyncQueue
}

// StoreTestSuite runs the same contract against every implementation.
type StoreTestSuite struct {
	suite.Suite
	open  func(t *testing.T) backend
	store backend
}

func (s *StoreTestSuite) SetupTest() {
	s.store = s.open(s.T())
}

func (s *StoreTestSuite) TearDownTest() {
	if c, ok := s.store.(interface{ Close() error }); ok {
		c.Close()
	}
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(*testing.T) backend {
		return memoryBackend{NewMemorySnapshotStore(), NewMemorySyncQueue()}
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(t *testing.T) backend {
		repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err, "failed to create test database")
		return repo
	}})
}

func (s *StoreTestSuite) TestSnapshotMissing() {
	data, version, err := s.store.Load(context.Background(), "nothing")
	require.NoError(s.T(), err)
	assert.Nil(s.T(), data)
	assert.Equal(s.T(), int64(0), version)
}

func (s *StoreTestSuite) TestSnapshotCompareAndSwap() {
	ctx := context.Background()
	t := s.T()

	v1, err := s.store.Save(ctx, "db", []byte(`{"a":1}`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	// A second creator loses.
	_, err = s.store.Save(ctx, "db", []byte(`{"b":1}`), 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	v2, err := s.store.Save(ctx, "db", []byte(`{"a":2}`), v1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// A writer holding the stale version loses.
	_, err = s.store.Save(ctx, "db", []byte(`{"stale":true}`), v1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	data, version, err := s.store.Load(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, v2, version)
	assert.JSONEq(t, `{"a":2}`, string(data))
}

func (s *StoreTestSuite) enqueue(op core.SyncOperation) int64 {
	tx := &core.Transaction{ID: "tx-1", Type: core.Debit, Amount: core.Money{Cents: 250}, Category: "Food", Date: core.NewDate(2024, 3, 5)}
	id, err := s.store.Enqueue(context.Background(), core.SyncTask{
		Operation:   op,
		UserID:      "john_doe",
		User:        core.User{ID: "john_doe", FirstName: "John", LastName: "Doe"},
		Transaction: tx,
	})
	require.NoError(s.T(), err)
	return id
}

func (s *StoreTestSuite) TestQueueRoundTrip() {
	ctx := context.Background()
	t := s.T()

	id := s.enqueue(core.SyncDebit)
	task, err := s.store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, core.SyncDebit, task.Operation)
	assert.Equal(t, core.SyncPending, task.Status)
	assert.Equal(t, "John", task.User.FirstName)
	require.NotNil(t, task.Transaction)
	assert.Equal(t, int64(250), task.Transaction.Amount.Cents)
	assert.Equal(t, "2024-03-05", task.Transaction.Date.String())

	_, err = s.store.Get(ctx, id+100)
	assert.ErrorIs(t, err, ErrSyncItemNotFound)
}

func (s *StoreTestSuite) TestQueueLifecycle() {
	ctx := context.Background()
	t := s.T()

	first := s.enqueue(core.SyncCreateUser)
	second := s.enqueue(core.SyncCredit)

	batch, err := s.store.DequeueBatch(ctx, 10, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, first, batch[0].ID)

	require.NoError(t, s.store.MarkProcessing(ctx, first))
	// Claiming twice fails.
	assert.ErrorIs(t, s.store.MarkProcessing(ctx, first), ErrSyncItemNotPending)

	require.NoError(t, s.store.MarkComplete(ctx, first))

	// Failed attempt backs off into the future.
	require.NoError(t, s.store.MarkProcessing(ctx, second))
	require.NoError(t, s.store.IncrementAttempt(ctx, second, "boom", time.Now().Add(time.Hour)))

	batch, err = s.store.DequeueBatch(ctx, 10, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, batch)

	task, err := s.store.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "boom", task.LastError)

	require.NoError(t, s.store.MarkFailed(ctx, second, "gave up"))

	stats, err := s.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SyncStats{Completed: 1, Failed: 1}, stats)

	n, err := s.store.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, err = s.store.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, core.SyncPending, task.Status)
	assert.Equal(t, 0, task.Attempts)

	n, err = s.store.CleanupCompleted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.store.Get(ctx, first)
	assert.ErrorIs(t, err, ErrSyncItemNotFound)
}

func (s *StoreTestSuite) TestResetStaleProcessing() {
	ctx := context.Background()
	t := s.T()

	id := s.enqueue(core.SyncDeleteUser)
	require.NoError(t, s.store.MarkProcessing(ctx, id))

	n, err := s.store.ResetStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := s.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Outstanding())
	assert.Equal(t, 1, stats.Pending)
}

func (s *StoreTestSuite) TestDequeueRespectsLimit() {
	for i := 0; i < 5; i++ {
		s.enqueue(core.SyncCredit)
	}
	batch, err := s.store.DequeueBatch(context.Background(), 3, time.Now().Add(time.Second))
	require.NoError(s.T(), err)
	assert.Len(s.T(), batch, 3)
}

func TestSQLiteRepository_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	_, err = repo.Save(context.Background(), "db", []byte("{}"), 0)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, version, err := reopened.Load(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

// Runs only when a MongoDB is reachable, e.g.
// MONGO_TEST_URI=mongodb://localhost:27017 go test ./internal/storage
func TestMongoSnapshotStore(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewMongoSnapshotStore(ctx, uri, "expensemanager_test_"+time.Now().Format("150405"))
	require.NoError(t, err)
	defer func() {
		store.collection.Database().Drop(ctx)
		store.Close(ctx)
	}()

	v1, err := store.Save(ctx, "db", []byte("{}"), 0)
	require.NoError(t, err)
	_, err = store.Save(ctx, "db", []byte("{}"), 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	v2, err := store.Save(ctx, "db", []byte(`{"x":1}`), v1)
	require.NoError(t, err)
	_, err = store.Save(ctx, "db", []byte(`{}`), v1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	data, version, err := store.Load(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, v2, version)
	assert.JSONEq(t, `{"x":1}`, string(data))
}
