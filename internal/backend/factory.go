package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expensemanager/internal/amqp"
	"expensemanager/internal/ledger"
	"expensemanager/internal/log"
	"expensemanager/internal/remote"
	gsheet "expensemanager/internal/remote/google"
	"expensemanager/internal/remote/memory"
	"expensemanager/internal/remote/rest"
	"expensemanager/internal/services"
	"expensemanager/internal/storage"
)

const (
	defaultMaxSessions = 1000
	defaultSessionTTL  = 12 * time.Hour
	disconnectTimeout  = 5 * time.Second
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

var _ Factory = (*DefaultFactory)(nil)

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the stores named by config and wires the ledger
// service on top of them. On error everything opened so far is closed.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (res *Result, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res = &Result{}
	var closers []func() error
	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			if cerr := res.Cleanup(); cerr != nil {
				f.logger.Warn("Failed to release partially created backend", "error", cerr)
			}
			res = nil
		}
	}()

	snapshots, err := f.createStorage(ctx, config, res, &closers)
	if err != nil {
		return nil, err
	}

	res.Mirror, err = f.createMirror(ctx, config)
	if err != nil {
		return nil, err
	}

	// A memory queue is private to this process, so a broker would only
	// announce items no worker can see.
	if config.AMQPURL != "" && config.Type != MemoryBackend {
		client, aerr := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if aerr != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without notifications", "error", aerr)
		} else {
			res.AMQP = client
			res.Notifier = client
			closers = append(closers, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	storeOpts := []ledger.Option{ledger.WithLogger(f.logger)}
	if config.BcryptCost != 0 {
		storeOpts = append(storeOpts, ledger.WithHasher(ledger.BcryptHasher{Cost: config.BcryptCost}))
	}
	res.Store = ledger.New(snapshots, storeOpts...)

	maxSessions, ttl := config.MaxSessions, config.SessionTTL
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	res.Sessions = services.NewSessionManager(maxSessions, ttl)
	res.Service = services.NewLedgerService(res.Store, res.Queue, res.Notifier, res.Sessions,
		services.WithServiceLogger(f.logger))

	f.logger.Info("Initialized backend",
		"backend", config.Type,
		"mirror", config.Mirror,
		"amqp_enabled", res.AMQP != nil)

	return res, nil
}

func (f *DefaultFactory) createStorage(ctx context.Context, config Config, res *Result, closers *[]func() error) (storage.SnapshotStore, error) {
	switch config.Type {
	case MemoryBackend:
		res.Queue = storage.NewMemorySyncQueue()
		f.logger.Info("Using in-memory ledger storage")
		return storage.NewMemorySnapshotStore(), nil

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		*closers = append(*closers, repo.Close)
		res.Queue = repo
		res.pingers = append(res.pingers, repo)
		return repo, nil

	case MongoBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite sync queue: %w", err)
		}
		*closers = append(*closers, repo.Close)
		res.Queue = repo
		res.pingers = append(res.pingers, repo)

		mongoStore, err := storage.NewMongoSnapshotStore(ctx, config.MongoURI, config.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB snapshot store: %w", err)
		}
		*closers = append(*closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			return mongoStore.Close(ctx)
		})
		res.pingers = append(res.pingers, mongoStore)
		return mongoStore, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMirror(ctx context.Context, config Config) (remote.Mirror, error) {
	switch config.Mirror {
	case NoMirror, "":
		return remote.Nop{}, nil
	case MemoryMirror:
		return memory.New(), nil
	case RESTMirror:
		f.logger.Info("Mirroring to REST backend", "base_url", config.RemoteBaseURL)
		return rest.New(config.RemoteBaseURL), nil
	case SheetsMirror:
		cli, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.Info("Mirroring to Google Sheets", "spreadsheet_id", config.GoogleSpreadsheetID)
		return cli, nil
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", config.Mirror)
	}
}
