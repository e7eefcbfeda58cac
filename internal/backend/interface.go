package backend

import (
	"context"

	"expensemanager/internal/amqp"
	"expensemanager/internal/ledger"
	"expensemanager/internal/remote"
	"expensemanager/internal/services"
	"expensemanager/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds everything a binary needs to serve the ledger. Notifier and
// AMQP are nil when no broker is configured.
type Result struct {
	Store    *ledger.Store
	Queue    storage.SyncQueue
	Mirror   remote.Mirror
	AMQP     *amqp.Client
	Notifier services.SyncNotifier
	Sessions *services.SessionManager
	Service  *services.LedgerService

	pingers []pinger
	Cleanup CleanupFunc
}

// Ready pings every store that can be pinged.
func (r *Result) Ready(ctx context.Context) error {
	for _, p := range r.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NewSyncProcessor builds a processor draining this backend's queue into its
// mirror.
func (r *Result) NewSyncProcessor(cfg services.SyncProcessorConfig) *services.SyncProcessor {
	return services.NewSyncProcessor(r.Queue, r.Mirror, cfg)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// BackendType selects where ledger snapshots live.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, MongoBackend:
		return true
	default:
		return false
	}
}

// MirrorType selects the remote the sync queue drains into.
type MirrorType string

const (
	NoMirror     MirrorType = "none"
	MemoryMirror MirrorType = "memory"
	RESTMirror   MirrorType = "rest"
	SheetsMirror MirrorType = "sheets"
)

func (mt MirrorType) IsValid() bool {
	switch mt {
	case NoMirror, MemoryMirror, RESTMirror, SheetsMirror:
		return true
	default:
		return false
	}
}
