// Package ledger owns the per-user financial state: user records, balances
// and most-recent-first transaction lists, persisted as one snapshot.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/storage"

	"github.com/google/uuid"
)

// SnapshotName is the key the whole ledger is stored under.
const SnapshotName = "expenseManagerDB"

const maxSaveAttempts = 3

// Snapshot is the persisted ledger layout.
type Snapshot struct {
	Users             map[string]core.User          `json:"users"`
	Transactions      map[string][]core.Transaction `json:"transactions"`
	LastUserID        int64                         `json:"lastUserId"`
	LastTransactionID int64                         `json:"lastTransactionId"`
}

// Store is the Ledger Store. Mutations are serialized in process and saved
// with compare-and-swap, so writers in other processes are retried rather
// than overwritten.
type Store struct {
	mu        sync.Mutex
	snapshots storage.SnapshotStore
	name      string
	hasher    Hasher
	now       func() time.Time
	newID     func() (string, error)
	logger    *log.Logger
}

type Option func(*Store)

func WithHasher(h Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the UUIDv7 transaction id source.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newID = gen }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// WithSnapshotName stores the ledger under a different key.
func WithSnapshotName(name string) Option {
	return func(s *Store) { s.name = name }
}

func New(snapshots storage.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		snapshots: snapshots,
		name:      SnapshotName,
		hasher:    BcryptHasher{},
		now:       time.Now,
		newID:     newUUIDv7,
		logger:    log.FromContext(context.Background()).WithComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateUser registers a user with its opening balance. A positive initial
// amount is recorded as a synthetic credit in category Initial.
func (s *Store) CreateUser(ctx context.Context, first, last, password string, initial core.Money) (core.User, error) {
	if err := core.ValidateNewUser(first, last, password, initial); err != nil {
		return core.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	var opening *core.Transaction
	if initial.Cents > 0 {
		id, err := s.newID()
		if err != nil {
			return core.User{}, fmt.Errorf("generate transaction id: %w", err)
		}
		tx := core.Transaction{
			ID:          id,
			Type:        core.Credit,
			Amount:      initial,
			Description: core.DefaultInitialDescription,
			Category:    core.CategoryInitial,
		}.WithDefaults(now)
		opening = &tx
	}

	user := core.User{
		ID:            core.UserID(first, last),
		FirstName:     strings.TrimSpace(first),
		LastName:      strings.TrimSpace(last),
		PasswordHash:  hash,
		InitialAmount: initial,
		Balance:       initial,
		CreatedAt:     now,
	}

	err = s.update(ctx, "create user", func(snap *Snapshot) error {
		if _, exists := snap.Users[user.ID]; exists {
			return core.ErrDuplicateUser
		}
		snap.Users[user.ID] = user
		snap.Transactions[user.ID] = []core.Transaction{}
		snap.LastUserID++
		if opening != nil {
			snap.Transactions[user.ID] = append(snap.Transactions[user.ID], *opening)
			snap.LastTransactionID++
		}
		return nil
	})
	if err != nil {
		return core.User{}, err
	}

	s.logger.InfoContext(ctx, "User created",
		log.FieldUserID, user.ID,
		log.FieldAmountCents, initial.Cents)
	return user, nil
}

// Authenticate checks the credentials of the user derived from first and
// last and records the login time.
func (s *Store) Authenticate(ctx context.Context, first, last, password string) (core.User, error) {
	id := core.UserID(first, last)

	snap, _, err := s.load(ctx)
	if err != nil {
		return core.User{}, err
	}
	user, ok := snap.Users[id]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return core.User{}, err
	}

	now := s.now()
	err = s.update(ctx, "record login", func(snap *Snapshot) error {
		u, ok := snap.Users[id]
		if !ok {
			return core.ErrUserNotFound
		}
		u.LastLogin = now
		snap.Users[id] = u
		user = u
		user.Balance = core.Balance(snap.Transactions[id])
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return user, nil
}

// AddTransaction prepends tx to the user's ledger. It does not touch the
// stored balance; see Record.
func (s *Store) AddTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	tx, err := s.prepare(tx)
	if err != nil {
		return core.Transaction{}, err
	}

	err = s.update(ctx, "add transaction", func(snap *Snapshot) error {
		return prepend(snap, userID, tx)
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// AdjustBalance adds delta to the stored balance and returns the user.
// Callers pair it with AddTransaction, so the stored value is not
// reconciled with the ledger first.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta core.Money) (core.User, error) {
	var user core.User
	err := s.update(ctx, "adjust balance", func(snap *Snapshot) error {
		u, ok := snap.Users[userID]
		if !ok {
			return core.ErrUserNotFound
		}
		u.Balance = u.Balance.Add(delta)
		snap.Users[userID] = u
		user = u
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return user, nil
}

// Record prepends tx and stores the balance folded from the ledger in a
// single snapshot write.
func (s *Store) Record(ctx context.Context, userID string, tx core.Transaction) (core.User, core.Transaction, error) {
	tx, err := s.prepare(tx)
	if err != nil {
		return core.User{}, core.Transaction{}, err
	}

	var user core.User
	err = s.update(ctx, "record transaction", func(snap *Snapshot) error {
		if err := prepend(snap, userID, tx); err != nil {
			return err
		}
		u := snap.Users[userID]
		u.Balance = core.Balance(snap.Transactions[userID])
		snap.Users[userID] = u
		user = u
		return nil
	})
	if err != nil {
		return core.User{}, core.Transaction{}, err
	}

	s.logger.Event(ctx, slog.LevelInfo, "Transaction recorded", log.NewFields().
		WithTransaction(userID, tx.ID, string(tx.Type), tx.Amount.Cents, tx.Category))
	return user, tx, nil
}

// ListTransactions returns the user's ledger, most recent first. Unknown
// users have an empty ledger.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	txns := snap.Transactions[userID]
	out := make([]core.Transaction, len(txns))
	copy(out, txns)
	return out, nil
}

// DeleteUser removes the user and its ledger and returns the removed user.
func (s *Store) DeleteUser(ctx context.Context, userID string) (core.User, error) {
	var user core.User
	err := s.update(ctx, "delete user", func(snap *Snapshot) error {
		u, ok := snap.Users[userID]
		if !ok {
			return core.ErrUserNotFound
		}
		user = u
		user.Balance = core.Balance(snap.Transactions[userID])
		delete(snap.Users, userID)
		delete(snap.Transactions, userID)
		return nil
	})
	if err != nil {
		return core.User{}, err
	}

	s.logger.InfoContext(ctx, "User deleted", log.FieldUserID, userID)
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (core.User, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return core.User{}, err
	}
	user, ok := snap.Users[userID]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns every user sorted by id.
func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]core.User, 0, len(snap.Users))
	for _, u := range snap.Users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// Ledger returns the user with its transactions and their totals.
func (s *Store) Ledger(ctx context.Context, userID string) (core.Ledger, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return core.Ledger{}, err
	}
	user, ok := snap.Users[userID]
	if !ok {
		return core.Ledger{}, core.ErrUserNotFound
	}
	txns := snap.Transactions[userID]
	return core.Ledger{User: user, Transactions: txns, Totals: core.Summarize(txns)}, nil
}

// Snapshot returns a copy of the whole ledger.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

// prepare assigns an id and fills defaults, then validates.
func (s *Store) prepare(tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		id, err := s.newID()
		if err != nil {
			return core.Transaction{}, fmt.Errorf("generate transaction id: %w", err)
		}
		tx.ID = id
	}
	tx = tx.WithDefaults(s.now())
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func prepend(snap *Snapshot, userID string, tx core.Transaction) error {
	if _, ok := snap.Users[userID]; !ok {
		return core.ErrUserNotFound
	}
	txns := snap.Transactions[userID]
	for _, existing := range txns {
		if existing.ID == tx.ID {
			return core.ErrDuplicateTransaction
		}
	}
	snap.Transactions[userID] = append([]core.Transaction{tx}, txns...)
	snap.LastTransactionID++
	return nil
}

// update runs fn on a fresh snapshot and saves it, reloading and rerunning
// fn when another writer got there first.
func (s *Store) update(ctx context.Context, op string, fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		snap, version, err := s.load(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := fn(snap); err != nil {
			return err
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("%s: encode snapshot: %w", op, err)
		}

		_, err = s.snapshots.Save(ctx, s.name, data, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return fmt.Errorf("%s: save snapshot: %w", op, err)
		}
		s.logger.WarnContext(ctx, "Snapshot changed concurrently, retrying",
			log.FieldOperation, op, log.FieldAttempt, attempt)
	}
}

// load reads the snapshot as stored. Mutations run on it, so a balance
// adjusted after AddTransaction is not counted twice.
func (s *Store) load(ctx context.Context) (*Snapshot, int64, error) {
	data, version, err := s.snapshots.Load(ctx, s.name)
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}

	snap := &Snapshot{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, snap); err != nil {
			return nil, 0, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	if snap.Users == nil {
		snap.Users = make(map[string]core.User)
	}
	if snap.Transactions == nil {
		snap.Transactions = make(map[string][]core.Transaction)
	}
	return snap, version, nil
}

// read loads the snapshot and recomputes every balance from its ledger.
func (s *Store) read(ctx context.Context) (*Snapshot, error) {
	snap, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for id, user := range snap.Users {
		folded := core.Balance(snap.Transactions[id])
		if folded != user.Balance {
			s.logger.WarnContext(ctx, "Stored balance drifted from ledger, recomputing",
				log.FieldUserID, id,
				"stored_cents", user.Balance.Cents,
				"ledger_cents", folded.Cents)
			user.Balance = folded
			snap.Users[id] = user
		}
	}
	return snap, nil
}
