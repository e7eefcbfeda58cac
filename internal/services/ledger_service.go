package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/ledger"
	"expensemanager/internal/log"
	"expensemanager/internal/report"
	"expensemanager/internal/storage"
)

// SyncNotifier announces a freshly queued sync task to the worker.
type SyncNotifier interface {
	PublishSync(ctx context.Context, queueID int64, op core.SyncOperation, userID string) error
}

// Entry is the user input for an income or an expense. Zero fields take the
// ledger defaults.
type Entry struct {
	Amount      core.Money
	Description string
	Category    string
	Date        core.Date
}

// LedgerService applies mutations to the local ledger, then queues their
// remote mirror calls. Queueing and notification failures are logged and
// never undo or fail the local mutation.
type LedgerService struct {
	store    *ledger.Store
	queue    storage.SyncQueue
	notifier SyncNotifier
	sessions *SessionManager
	now      func() time.Time
	logger   *log.Logger
}

type ServiceOption func(*LedgerService)

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *LedgerService) { s.now = now }
}

func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *LedgerService) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// NewLedgerService wires the service. queue and notifier may be nil, which
// disables remote mirroring.
func NewLedgerService(store *ledger.Store, queue storage.SyncQueue, notifier SyncNotifier, sessions *SessionManager, opts ...ServiceOption) *LedgerService {
	s := &LedgerService{
		store:    store,
		queue:    queue,
		notifier: notifier,
		sessions: sessions,
		now:      time.Now,
		logger:   log.FromContext(context.Background()).WithComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser registers a user and queues its remote creation.
func (s *LedgerService) CreateUser(ctx context.Context, first, last, password string, initial core.Money) (core.User, error) {
	user, err := s.store.CreateUser(ctx, first, last, password, initial)
	if err != nil {
		return core.User{}, err
	}
	s.enqueue(ctx, core.SyncCreateUser, user, nil)
	return user.Public(), nil
}

// Login authenticates and opens a session.
func (s *LedgerService) Login(ctx context.Context, first, last, password string) (*Session, error) {
	user, err := s.store.Authenticate(ctx, first, last, password)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(user)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.InfoContext(ctx, "User logged in", log.FieldUserID, user.ID)
	return sess, nil
}

func (s *LedgerService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Close(token); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Session closed")
	return nil
}

// Session resolves a token to its live session.
func (s *LedgerService) Session(token string) (*Session, error) {
	return s.sessions.Get(token)
}

func (s *LedgerService) AddIncome(ctx context.Context, sess *Session, e Entry) (core.Transaction, error) {
	return s.record(ctx, sess, core.Credit, e)
}

func (s *LedgerService) AddExpense(ctx context.Context, sess *Session, e Entry) (core.Transaction, error) {
	return s.record(ctx, sess, core.Debit, e)
}

func (s *LedgerService) record(ctx context.Context, sess *Session, typ core.TransactionType, e Entry) (core.Transaction, error) {
	if err := sess.check(); err != nil {
		return core.Transaction{}, err
	}
	if err := e.Amount.Validate(); err != nil {
		return core.Transaction{}, err
	}

	user, tx, err := s.store.Record(ctx, sess.UserID, core.Transaction{
		Type:        typ,
		Amount:      e.Amount,
		Description: e.Description,
		Category:    e.Category,
		Date:        e.Date,
	})
	if err != nil {
		return core.Transaction{}, err
	}
	sess.setUser(user.Public())

	s.enqueue(ctx, core.SyncOperationFor(typ), user, &tx)
	return tx, nil
}

// DeleteUser removes the user with its ledger, ends its sessions and queues
// the remote deletion.
func (s *LedgerService) DeleteUser(ctx context.Context, userID string) (core.User, error) {
	user, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return core.User{}, err
	}
	if n := s.sessions.CloseUser(userID); n > 0 {
		slog.DebugContext(ctx, "Closed sessions of deleted user", log.FieldUserID, userID, "sessions", n)
	}
	s.enqueue(ctx, core.SyncDeleteUser, user, nil)
	return user.Public(), nil
}

// Ledger returns the session user with transactions and totals.
func (s *LedgerService) Ledger(ctx context.Context, sess *Session) (core.Ledger, error) {
	if err := sess.check(); err != nil {
		return core.Ledger{}, err
	}
	l, err := s.store.Ledger(ctx, sess.UserID)
	if err != nil {
		return core.Ledger{}, err
	}
	l.User = l.User.Public()
	sess.setUser(l.User)
	return l, nil
}

func (s *LedgerService) Transactions(ctx context.Context, sess *Session) ([]core.Transaction, error) {
	if err := sess.check(); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, sess.UserID)
}

// Report aggregates the session user's ledger under f.
func (s *LedgerService) Report(ctx context.Context, sess *Session, f report.Filter) (report.Report, error) {
	txns, err := s.Transactions(ctx, sess)
	if err != nil {
		return report.Report{}, err
	}
	r, err := report.Aggregate(txns, f, s.now())
	if err != nil {
		return report.Report{}, err
	}
	s.logger.Event(ctx, slog.LevelDebug, "Report generated", log.NewFields().
		WithOperation(log.OpReport).
		WithUserID(sess.UserID))
	return r, nil
}

// ListUsers returns every user without credentials.
func (s *LedgerService) ListUsers(ctx context.Context) ([]core.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].Public()
	}
	return users, nil
}

// QuickStats summarizes all ledgers.
func (s *LedgerService) QuickStats(ctx context.Context) (report.QuickStats, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return report.QuickStats{}, err
	}
	users := make([]core.User, 0, len(snap.Users))
	for _, u := range snap.Users {
		users = append(users, u)
	}
	return report.ComputeQuickStats(users, snap.Transactions, s.now()), nil
}

// PendingSyncCount is the number of queued mirror calls not yet settled.
func (s *LedgerService) PendingSyncCount(ctx context.Context) (int, error) {
	stats, err := s.SyncStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Outstanding(), nil
}

func (s *LedgerService) SyncStats(ctx context.Context) (core.SyncStats, error) {
	if s.queue == nil {
		return core.SyncStats{}, nil
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return core.SyncStats{}, fmt.Errorf("sync queue stats: %w", err)
	}
	return stats, nil
}

func (s *LedgerService) enqueue(ctx context.Context, op core.SyncOperation, user core.User, tx *core.Transaction) {
	if s.queue == nil {
		return
	}

	id, err := s.queue.Enqueue(ctx, core.SyncTask{
		Operation:   op,
		UserID:      user.ID,
		User:        user.Public(),
		Transaction: tx,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue sync task",
			log.FieldOperation, op,
			log.FieldUserID, user.ID,
			log.FieldError, err)
		return
	}

	if s.notifier == nil {
		slog.DebugContext(ctx, "Sync notifier not available, relying on polling", log.FieldQueueID, id)
		return
	}
	if err := s.notifier.PublishSync(ctx, id, op, user.ID); err != nil {
		slog.WarnContext(ctx, "Failed to publish sync message",
			log.FieldQueueID, id,
			log.FieldOperation, op,
			log.FieldError, err)
	}
}
