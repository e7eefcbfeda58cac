package services

import (
	"errors"
	"sync"
	"time"

	"expensemanager/internal/cache"
	"expensemanager/internal/core"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// Session is one logged-in user. It is created by Login and closed by
// Logout or expiry; a closed session rejects every further operation.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time

	mu     sync.RWMutex
	user   core.User
	closed bool
}

// User returns the user as of the last operation in this session.
func (s *Session) User() core.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) setUser(u core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.user = u
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether the session ended.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) check() error {
	if s == nil {
		return ErrSessionNotFound
	}
	if s.Closed() {
		return ErrSessionClosed
	}
	return nil
}

// SessionManager keeps live sessions in an LRU cache with a sliding TTL.
type SessionManager struct {
	sessions *cache.LRUCache[*Session]
	now      func() time.Time
}

func NewSessionManager(maxSessions int, ttl time.Duration) *SessionManager {
	m := &SessionManager{
		sessions: cache.NewLRUCache[*Session](maxSessions, ttl),
		now:      time.Now,
	}
	m.sessions.OnEvict = func(_ string, s *Session) { s.close() }
	return m
}

// Cache exposes the session table so a cache.Manager can sweep it.
func (m *SessionManager) Cache() *cache.LRUCache[*Session] {
	return m.sessions
}

func (m *SessionManager) Create(user core.User) (*Session, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	s := &Session{
		Token:     token.String(),
		UserID:    user.ID,
		CreatedAt: m.now(),
		user:      user.Public(),
	}
	m.sessions.Set(s.Token, s)
	return s, nil
}

// Get returns the live session for token.
func (m *SessionManager) Get(token string) (*Session, error) {
	s, ok := m.sessions.Get(token)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends the session for token.
func (m *SessionManager) Close(token string) error {
	s, ok := m.sessions.Take(token)
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	return nil
}

// CloseUser ends every session of userID. Used when the user is deleted.
func (m *SessionManager) CloseUser(userID string) int {
	n := 0
	for _, s := range m.sessions.Values() {
		if s.UserID == userID {
			if _, ok := m.sessions.Take(s.Token); ok {
				s.close()
				n++
			}
		}
	}
	return n
}

func (m *SessionManager) Count() int {
	return m.sessions.Size()
}
