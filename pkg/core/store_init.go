package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Init opens the SQLite database and creates the schema
func (s *SQLiteBackend) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}
	if s.db != nil {
		return nil
	}

	// busy_timeout: writers from different owners wait for the lock instead of failing
	// journal_mode=WAL: readers do not block the single writer
	sep := "?"
	if strings.Contains(s.config.Endpoint, "?") {
		sep = "&"
	}
	dsn := s.config.Endpoint + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	pool := s.config.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MinIdle)
	db.SetConnMaxIdleTime(pool.IdleTimeout)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return wrapError("init", err)
	}

	s.db = db
	s.logger.Info("database initialized", "path", s.config.Endpoint, "pool", pool.MaxOpen)

	return nil
}

// createTables creates the fingerprint and metadata tables
func createTables(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		hash INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		t1 INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS fp_hash_idx ON fingerprints(hash);

	CREATE TABLE IF NOT EXISTS resource_metadata (
		resource_id INTEGER PRIMARY KEY,
		path TEXT NOT NULL,
		duration REAL NOT NULL,
		num_fingerprints INTEGER NOT NULL
	);
	`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
