package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rongwang/groupledger/internal/config"
	"github.com/rongwang/groupledger/internal/lock"
	"github.com/rongwang/groupledger/internal/repository"
	"github.com/rongwang/groupledger/internal/service"
)

// App bundles the dependencies shared by the server and the worker
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Repository *repository.DocumentRepository
	Service    service.Service
	// Redis is nil when neither storage, locking nor jobs need it
	Redis *redis.Client

	locker  lock.Locker
	closers []func() error
}

// ErrJobsNeedDistributedLock is returned when the worker would lock groups
// in-process while the server writes the same ledgers from another process.
var ErrJobsNeedDistributedLock = errors.New("jobs require LEDGER_DISTRIBUTED_LOCK=true")

// NeedsRedis reports whether the configuration requires a Redis connection
func NeedsRedis(cfg *config.Config, jobs bool) bool {
	return jobs || cfg.Ledger.Storage == config.StorageRedis || cfg.Ledger.DistributedLock
}

// New connects the configured storage and builds the service. withJobs forces
// a Redis connection for the job queue and requires the distributed lock.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, withJobs bool) (*App, error) {
	if withJobs && !cfg.Ledger.DistributedLock {
		return nil, ErrJobsNeedDistributedLock
	}

	a := &App{Config: cfg, Logger: logger}

	if NeedsRedis(cfg, withJobs) {
		client, err := config.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}

	store, err := a.newStore()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Repository = repository.NewDocumentRepository(store, cfg.Ledger.Operators)

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Ledger.DistributedLock {
		locker = lock.NewRedisLocker(a.Redis, cfg.Redis.Prefix, logger)
	}

	a.locker = locker

	a.Service = service.NewDefaultService(a.Repository, locker, service.Config{
		Owner:            cfg.Ledger.Owner,
		JWTSecret:        cfg.Auth.JWTSecret,
		ClientID:         cfg.Auth.ClientID,
		ClientSecretHash: cfg.Auth.ClientSecretHash,
		TokenTTL:         cfg.Auth.TokenTTL,
	}, service.WithLogger(logger))

	logger.Info("service ready",
		slog.String("storage", cfg.Ledger.Storage),
		slog.Bool("distributedLock", cfg.Ledger.DistributedLock))
	return a, nil
}

func (a *App) newStore() (repository.DocumentStore, error) {
	switch a.Config.Ledger.Storage {
	case config.StoragePostgres:
		db, err := config.SetupDatabase(a.Config)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return repository.NewPostgresStore(db), nil
	case config.StorageRedis:
		return repository.NewRedisStore(a.Redis, a.Config.Redis.Prefix), nil
	case config.StorageMemory:
		a.Logger.Warn("using in-memory storage; ledgers are lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.Config.Ledger.Storage)
	}
}

// Close releases connections in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
