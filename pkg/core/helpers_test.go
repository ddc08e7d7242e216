package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected backend failure")

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Endpoint = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newEngineOver(t, newTestBackend(t))
}

func newEngineOver(t *testing.T, backend Backend) *Engine {
	t.Helper()
	engine, err := NewEngine(backend, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// faultyBackend fails selected operations on demand
type faultyBackend struct {
	Backend
	failInsert atomic.Bool
	failDelete atomic.Bool
	failView   atomic.Bool
	failMeta   atomic.Bool
}

func (f *faultyBackend) InsertRecords(ctx context.Context, recs []Record) error {
	if f.failInsert.Load() {
		return errInjected
	}
	return f.Backend.InsertRecords(ctx, recs)
}

func (f *faultyBackend) DeleteRecords(ctx context.Context, recs []Record) error {
	if f.failDelete.Load() {
		return errInjected
	}
	return f.Backend.DeleteRecords(ctx, recs)
}

func (f *faultyBackend) View(ctx context.Context, fn func(RangeReader) error) error {
	if f.failView.Load() {
		return errInjected
	}
	return f.Backend.View(ctx, fn)
}

func (f *faultyBackend) UpsertMetadata(ctx context.Context, m ResourceMetadata) error {
	if f.failMeta.Load() {
		return errInjected
	}
	return f.Backend.UpsertMetadata(ctx, m)
}

func insert(t *testing.T, e *Engine, recs ...Record) {
	t.Helper()
	require.NoError(t, e.Index().InsertBatch(context.Background(), recs))
}

func records(t *testing.T, e *Engine, target, rng int64) []Record {
	t.Helper()
	out, err := e.Index().RangeQuery(context.Background(), target, rng)
	require.NoError(t, err)
	return out
}
