package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/middleware/ratelimit"
	"expensemanager/internal/middleware/security"
	"expensemanager/internal/middleware/trace"
	"expensemanager/internal/report"
	"expensemanager/internal/services"
)

// LedgerAPI is the part of services.LedgerService the handlers call.
type LedgerAPI interface {
	CreateUser(ctx context.Context, first, last, password string, initial core.Money) (core.User, error)
	Login(ctx context.Context, first, last, password string) (*services.Session, error)
	Logout(ctx context.Context, token string) error
	Session(token string) (*services.Session, error)
	AddIncome(ctx context.Context, sess *services.Session, e services.Entry) (core.Transaction, error)
	AddExpense(ctx context.Context, sess *services.Session, e services.Entry) (core.Transaction, error)
	DeleteUser(ctx context.Context, userID string) (core.User, error)
	Ledger(ctx context.Context, sess *services.Session) (core.Ledger, error)
	Report(ctx context.Context, sess *services.Session, f report.Filter) (report.Report, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	QuickStats(ctx context.Context) (report.QuickStats, error)
	SyncStats(ctx context.Context) (core.SyncStats, error)
}

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readyTimeout      = 3 * time.Second
)

type Server struct {
	http.Server
	api      LedgerAPI
	ready    func(context.Context) error
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithReadiness sets the check behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithRateLimiter replaces the default limiter guarding POST endpoints.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, api LedgerAPI, opts ...Option) *Server {
	s := &Server{
		api:      api,
		detector: security.NewDetector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.FromContext(context.Background())
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	s.tracer = trace.NewMiddleware(s.logger, s.detector.ClientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("DELETE /users/{id}", s.authenticated(s.handleDeleteUser))

	mux.HandleFunc("POST /sessions", s.handleLogin)
	mux.HandleFunc("DELETE /sessions", s.authenticated(s.handleLogout))

	mux.HandleFunc("POST /income", s.authenticated(s.handleAddIncome))
	mux.HandleFunc("POST /expenses", s.authenticated(s.handleAddExpense))
	mux.HandleFunc("GET /transactions", s.authenticated(s.handleTransactions))
	mux.HandleFunc("GET /report", s.authenticated(s.handleReport))

	mux.HandleFunc("GET /quick-stats", s.handleQuickStats)
	mux.HandleFunc("GET /sync/stats", s.handleSyncStats)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	}, http.MethodPost)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Limiter exposes the rate limiter so its client table can be expired by a
// cache.Manager.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Shutdown gracefully shuts down the server; later calls are no-ops.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// authenticated resolves the bearer token to a live session before calling h.
func (s *Server) authenticated(h func(http.ResponseWriter, *http.Request, *services.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			UnauthorizedError("missing bearer token").Write(w)
			return
		}
		sess, err := s.api.Session(token)
		if err != nil {
			ErrorFor(err).Write(w)
			return
		}
		ctx := log.NewContext(r.Context(), log.FromContext(r.Context()).With(log.FieldUserID, sess.UserID))
		h(w, r.WithContext(ctx), sess)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	OK(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			ErrorResponse(http.StatusServiceUnavailable, "storage unavailable").Write(w)
			return
		}
	}
	OK(map[string]string{"status": "ready"}).Write(w)
}

// fail writes the response for err, logging the ones that end up as 500.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Event(r.Context(), slog.LevelError, "Request failed",
			log.NewFields().WithOperation(op).WithError(err))
	}
	resp.Write(w)
}
