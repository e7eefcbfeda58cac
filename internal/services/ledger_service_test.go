package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/ledger"
	"expensemanager/internal/report"
	"expensemanager/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

var serviceNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type published struct {
	QueueID   int64
	Operation core.SyncOperation
	UserID    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeNotifier) PublishSync(_ context.Context, queueID int64, op core.SyncOperation, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{queueID, op, userID})
	return nil
}

// failingQueue rejects every enqueue.
type failingQueue struct {
	*storage.MemorySyncQueue
}

func (failingQueue) Enqueue(context.Context, core.SyncTask) (int64, error) {
	return 0, errors.New("disk full")
}

type LedgerServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	queue    *storage.MemorySyncQueue
	notifier *fakeNotifier
	svc      *LedgerService
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceTestSuite))
}

func newLedgerStore() *ledger.Store {
	return ledger.New(storage.NewMemorySnapshotStore(),
		ledger.WithHasher(ledger.BcryptHasher{Cost: bcrypt.MinCost}),
		ledger.WithClock(func() time.Time { return serviceNow }))
}

func (s *LedgerServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.queue = storage.NewMemorySyncQueue()
	s.notifier = &fakeNotifier{}
	s.svc = NewLedgerService(newLedgerStore(), s.queue, s.notifier, NewSessionManager(100, time.Hour),
		WithServiceClock(func() time.Time { return serviceNow }))
}

func (s *LedgerServiceTestSuite) login() *Session {
	_, err := s.svc.CreateUser(s.ctx, "John", "Doe", "pw", core.Money{Cents: 10000})
	require.NoError(s.T(), err)
	sess, err := s.svc.Login(s.ctx, "John", "Doe", "pw")
	require.NoError(s.T(), err)
	return sess
}

func (s *LedgerServiceTestSuite) tasks() []core.SyncTask {
	batch, err := s.queue.DequeueBatch(s.ctx, 100, time.Now().Add(time.Hour))
	require.NoError(s.T(), err)
	return batch
}

func (s *LedgerServiceTestSuite) TestCreateUserQueuesSync() {
	t := s.T()
	user, err := s.svc.CreateUser(s.ctx, "John", "Doe", "pw", core.Money{Cents: 5000})
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash)
	assert.Equal(t, "john_doe", user.ID)

	tasks := s.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, core.SyncCreateUser, tasks[0].Operation)
	assert.Empty(t, tasks[0].User.PasswordHash)

	require.Len(t, s.notifier.msgs, 1)
	assert.Equal(t, published{tasks[0].ID, core.SyncCreateUser, "john_doe"}, s.notifier.msgs[0])

	count, err := s.svc.PendingSyncCount(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func (s *LedgerServiceTestSuite) TestLoginFailures() {
	s.login()

	_, err := s.svc.Login(s.ctx, "John", "Doe", "wrong")
	assert.ErrorIs(s.T(), err, core.ErrInvalidCredential)

	_, err = s.svc.Login(s.ctx, "Nobody", "Here", "pw")
	assert.ErrorIs(s.T(), err, core.ErrUserNotFound)
}

func (s *LedgerServiceTestSuite) TestIncomeAndExpenseUpdateBalance() {
	t := s.T()
	sess := s.login()

	_, err := s.svc.AddIncome(s.ctx, sess, Entry{Amount: core.Money{Cents: 2500}})
	require.NoError(t, err)
	tx, err := s.svc.AddExpense(s.ctx, sess, Entry{Amount: core.Money{Cents: 1200}, Category: "Food", Description: "Lunch"})
	require.NoError(t, err)
	assert.Equal(t, core.Debit, tx.Type)
	assert.Equal(t, "Food", tx.Category)

	assert.Equal(t, int64(11300), sess.User().Balance.Cents)

	l, err := s.svc.Ledger(s.ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, int64(11300), l.User.Balance.Cents)
	assert.Len(t, l.Transactions, 3)
	assert.Equal(t, int64(11300), l.Totals.NetBalance.Cents)

	ops := []core.SyncOperation{}
	for _, task := range s.tasks() {
		ops = append(ops, task.Operation)
	}
	assert.Equal(t, []core.SyncOperation{core.SyncCreateUser, core.SyncCredit, core.SyncDebit}, ops)
}

func (s *LedgerServiceTestSuite) TestInvalidAmountRejected() {
	sess := s.login()
	_, err := s.svc.AddExpense(s.ctx, sess, Entry{Amount: core.Money{Cents: 0}})
	assert.ErrorIs(s.T(), err, core.ErrValidation)
	assert.Len(s.T(), s.tasks(), 1, "only the create_user task")
}

func (s *LedgerServiceTestSuite) TestLogoutClosesSession() {
	t := s.T()
	sess := s.login()

	require.NoError(t, s.svc.Logout(s.ctx, sess.Token))
	_, err := s.svc.AddIncome(s.ctx, sess, Entry{Amount: core.Money{Cents: 100}})
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.svc.Session(sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.svc.Logout(s.ctx, sess.Token), ErrSessionNotFound)
}

func (s *LedgerServiceTestSuite) TestDeleteUser() {
	t := s.T()
	sess := s.login()

	deleted, err := s.svc.DeleteUser(s.ctx, "john_doe")
	require.NoError(t, err)
	assert.Equal(t, "john_doe", deleted.ID)
	assert.True(t, sess.Closed())

	_, err = s.svc.DeleteUser(s.ctx, "john_doe")
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	tasks := s.tasks()
	assert.Equal(t, core.SyncDeleteUser, tasks[len(tasks)-1].Operation)
	assert.Equal(t, "John", tasks[len(tasks)-1].User.FirstName)
}

func (s *LedgerServiceTestSuite) TestReport() {
	t := s.T()
	sess := s.login()

	_, err := s.svc.AddExpense(s.ctx, sess, Entry{Amount: core.Money{Cents: 300}, Date: core.NewDate(2024, 6, 14)})
	require.NoError(t, err)
	_, err = s.svc.AddExpense(s.ctx, sess, Entry{Amount: core.Money{Cents: 700}, Date: core.NewDate(2023, 1, 1)})
	require.NoError(t, err)

	r, err := s.svc.Report(s.ctx, sess, report.LastWeek().WithType(report.TypeDebit))
	require.NoError(t, err)
	require.Len(t, r.Transactions, 1)
	assert.Equal(t, int64(300), r.Summary.TotalSpent.Cents)

	r, err = s.svc.Report(s.ctx, sess, report.AllTime())
	require.NoError(t, err)
	assert.Len(t, r.Transactions, 3)
}

func (s *LedgerServiceTestSuite) TestQuickStats() {
	t := s.T()
	sess := s.login()
	_, err := s.svc.AddExpense(s.ctx, sess, Entry{Amount: core.Money{Cents: 400}})
	require.NoError(t, err)
	_, err = s.svc.CreateUser(s.ctx, "Jane", "Roe", "pw", core.Money{Cents: 0})
	require.NoError(t, err)

	stats, err := s.svc.QuickStats(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, int64(9600), stats.TotalBalance.Cents)
	assert.Equal(t, 2, stats.TodaysTransactions)
	assert.Equal(t, int64(400), stats.AvgExpense.Cents)

	users, err := s.svc.ListUsers(s.ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Empty(t, users[0].PasswordHash)
}

func (s *LedgerServiceTestSuite) TestSyncFailuresDoNotFailMutations() {
	t := s.T()
	s.notifier.err = errors.New("broker down")
	svc := NewLedgerService(newLedgerStore(), failingQueue{storage.NewMemorySyncQueue()}, s.notifier, NewSessionManager(10, time.Hour))

	_, err := svc.CreateUser(s.ctx, "John", "Doe", "pw", core.Money{Cents: 100})
	require.NoError(t, err)

	_, err = s.svc.CreateUser(s.ctx, "Jane", "Roe", "pw", core.Money{Cents: 100})
	require.NoError(t, err, "publish failure is only logged")
	assert.Len(t, s.tasks(), 1)
}

func TestLedgerService_WithoutQueue(t *testing.T) {
	svc := NewLedgerService(newLedgerStore(), nil, nil, NewSessionManager(10, time.Hour))

	_, err := svc.CreateUser(context.Background(), "John", "Doe", "pw", core.Money{})
	require.NoError(t, err)

	n, err := svc.PendingSyncCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
