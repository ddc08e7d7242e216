package core

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements the Backend interface using SQLite
type SQLiteBackend struct {
	db     *sql.DB
	config Config
	pool   *ConnPool
	logger Logger
	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend validates config and returns an uninitialized backend.
// Call Init before use.
func NewSQLiteBackend(config Config) (*SQLiteBackend, error) {
	if config.Backend == "" {
		config.Backend = BackendSQLite
	}
	if config.Backend != BackendSQLite {
		return nil, &ConfigError{Key: EnvBackend, Reason: "sqlite backend requested with backend " + string(config.Backend)}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &SQLiteBackend{
		config: config,
		pool:   NewConnPool(config.Pool),
		logger: loggerOrNop(config.Logger).With("backend", "sqlite"),
	}, nil
}

// OpenSQLite creates and initializes a SQLite backend
func OpenSQLite(ctx context.Context, config Config) (*SQLiteBackend, error) {
	s, err := NewSQLiteBackend(config)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Name identifies the backend in reports
func (s *SQLiteBackend) Name() string {
	return "SQLite"
}

// DB exposes the underlying database handle for maintenance tooling
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

// acquire checks the backend is open and checks out a pool slot
func (s *SQLiteBackend) acquire(ctx context.Context, op string) (func(), error) {
	s.mu.RLock()
	closed := s.closed || s.db == nil
	s.mu.RUnlock()
	if closed {
		return nil, wrapError(op, ErrStoreClosed)
	}

	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return release, nil
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (s *SQLiteBackend) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(op, err)
	}
	defer func() {
		if rollErr := tx.Rollback(); rollErr != nil && rollErr != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", "op", op, "error", rollErr)
		}
	}()

	if err := fn(tx); err != nil {
		return wrapError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapError(op, err)
	}
	return nil
}
