package core

import (
	"context"
	"errors"
	"sync/atomic"
)

// Engine ties the fingerprint index, metadata catalog, operation queue and
// statistics reporter to one backend. Construct it once and share it
// between producers.
type Engine struct {
	backend  Backend
	index    *FingerprintIndex
	catalog  *MetadataCatalog
	queue    *OperationQueue
	reporter *StatisticsReporter
	logger   Logger
	closed   atomic.Bool
}

// NewEngine wires the engine components over an initialized backend
func NewEngine(backend Backend, config Config) (*Engine, error) {
	if backend == nil {
		return nil, &ConfigError{Key: EnvBackend, Reason: "backend is nil"}
	}
	if config.FlushRateLimit < 0 {
		return nil, &ConfigError{Key: EnvFlushRate, Reason: "flush rate must be non-negative"}
	}

	logger := loggerOrNop(config.Logger)
	index := NewFingerprintIndex(backend, logger.With("component", "index"))

	return &Engine{
		backend:  backend,
		index:    index,
		catalog:  NewMetadataCatalog(backend, logger.With("component", "catalog")),
		queue:    NewOperationQueue(index, config.FlushRateLimit, logger.With("component", "queue")),
		reporter: NewStatisticsReporter(backend, index),
		logger:   logger,
	}, nil
}

// Index returns the fingerprint index
func (e *Engine) Index() *FingerprintIndex { return e.index }

// Catalog returns the resource metadata catalog
func (e *Engine) Catalog() *MetadataCatalog { return e.catalog }

// Queue returns the per-owner operation queue
func (e *Engine) Queue() *OperationQueue { return e.queue }

// Stats returns the statistics reporter
func (e *Engine) Stats() *StatisticsReporter { return e.reporter }

// Backend returns the underlying persistent store
func (e *Engine) Backend() Backend { return e.backend }

// Clear empties the index and the catalog together
func (e *Engine) Clear(ctx context.Context) error {
	if e.closed.Load() {
		return wrapError("clear", ErrStoreClosed)
	}
	if err := e.backend.Clear(ctx); err != nil {
		return wrapError("clear", err)
	}
	e.logger.Info("index and metadata cleared")
	return nil
}

// Close releases the backend. Closing twice is a no-op.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close()
}

// Closed reports whether Close has been called
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// IsClosed reports whether err was caused by using a closed engine
func IsClosed(err error) bool {
	return errors.Is(err, ErrStoreClosed)
}
