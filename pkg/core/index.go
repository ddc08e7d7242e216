package core

import (
	"context"
	"math"
)

// FingerprintIndex appends, deletes and range-scans landmark records
type FingerprintIndex struct {
	backend Backend
	logger  Logger
}

// NewFingerprintIndex creates an index over the given backend
func NewFingerprintIndex(backend Backend, logger Logger) *FingerprintIndex {
	return &FingerprintIndex{
		backend: backend,
		logger:  loggerOrNop(logger),
	}
}

// Window returns the closed interval [target-rng, target+rng], clamped to
// the int64 domain instead of wrapping around at the extremes.
func Window(target, rng int64) (lo, hi int64) {
	if rng < 0 {
		rng = 0
	}
	if target < math.MinInt64+rng {
		lo = math.MinInt64
	} else {
		lo = target - rng
	}
	if target > math.MaxInt64-rng {
		hi = math.MaxInt64
	} else {
		hi = target + rng
	}
	return lo, hi
}

// InsertBatch persists all records atomically; either every record lands or none does
func (ix *FingerprintIndex) InsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ix.backend.InsertRecords(ctx, recs); err != nil {
		return wrapError("insert_batch", err)
	}
	ix.logger.Debug("batch insert completed", "count", len(recs))
	return nil
}

// DeleteBatch removes records by exact triple match, atomically.
// Records that are not stored are ignored.
func (ix *FingerprintIndex) DeleteBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ix.backend.DeleteRecords(ctx, recs); err != nil {
		return wrapError("delete_batch", err)
	}
	ix.logger.Debug("batch delete completed", "count", len(recs))
	return nil
}

// RangeQuery returns every record whose hash lies in [target-rng, target+rng],
// in ascending hash order. rng == 0 means exact match only.
func (ix *FingerprintIndex) RangeQuery(ctx context.Context, target, rng int64) ([]Record, error) {
	if rng < 0 {
		return nil, wrapError("range_query", ErrInvalidRange)
	}

	var out []Record
	err := ix.backend.View(ctx, func(r RangeReader) error {
		return scanWindow(ctx, r, target, rng, func(rec Record) error {
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, wrapError("range_query", err)
	}
	return out, nil
}

// Count returns the total number of stored records
func (ix *FingerprintIndex) Count(ctx context.Context) (int64, error) {
	n, err := ix.backend.CountRecords(ctx)
	if err != nil {
		return 0, wrapError("count", err)
	}
	return n, nil
}

// Clear irreversibly empties the index
func (ix *FingerprintIndex) Clear(ctx context.Context) error {
	if err := ix.backend.ClearRecords(ctx); err != nil {
		return wrapError("clear_index", err)
	}
	ix.logger.Info("fingerprint index cleared")
	return nil
}

func scanWindow(ctx context.Context, r RangeReader, target, rng int64, fn func(Record) error) error {
	lo, hi := Window(target, rng)
	return r.Range(ctx, lo, hi, fn)
}
