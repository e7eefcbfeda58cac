// Package ratelimit throttles requests per client with a fixed one-minute
// window.
package ratelimit

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"expensemanager/internal/cache"
)

const window = time.Minute

// Limiter provides rate limiting functionality
type Limiter struct {
	clients           *cache.LRUCache[*clientWindow]
	requestsPerMinute int
	rejected          atomic.Int64
	now               func() time.Time
}

type clientWindow struct {
	mu      sync.Mutex
	start   time.Time
	request int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// MaxClients bounds the tracked clients; the least recently seen go first.
	MaxClients int
	// IdleTTL drops clients not seen for this long.
	IdleTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		MaxClients:        10000,
		IdleTTL:           10 * time.Minute,
	}
}

func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.MaxClients <= 0 {
		config.MaxClients = def.MaxClients
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	return &Limiter{
		clients:           cache.NewLRUCache[*clientWindow](config.MaxClients, config.IdleTTL),
		requestsPerMinute: config.RequestsPerMinute,
		now:               time.Now,
	}
}

// Cache exposes the client table so a cache.Manager can expire it.
func (rl *Limiter) Cache() cache.Cleaner {
	return rl.clients
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	now := rl.now()

	cw, ok := rl.clients.Get(clientIP)
	if !ok {
		cw = &clientWindow{start: now}
		rl.clients.Set(clientIP, cw)
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if now.Sub(cw.start) > window {
		cw.start = now
		cw.request = 0
	}
	cw.request++

	if cw.request > rl.requestsPerMinute {
		rl.rejected.Add(1)
		return false
	}
	return true
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	Rejected    int64
	ClientCount int
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		Rejected:    rl.rejected.Load(),
		ClientCount: rl.clients.Size(),
	}
}

// Middleware limits the methods listed (all when none are given) and answers
// over-limit requests with onLimit, or a plain 429.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit http.HandlerFunc, methods ...string) func(http.Handler) http.Handler {
	limited := func(r *http.Request) bool {
		if len(methods) == 0 {
			return true
		}
		for _, m := range methods {
			if r.Method == m {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limited(r) && !rl.Allow(extractIP(r)) {
				w.Header().Set("Retry-After", "60")
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
