package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const rangeQuerySQL = `SELECT hash, resource_id, t1 FROM fingerprints WHERE hash BETWEEN ? AND ? ORDER BY hash, rowid`

// sqliteRangeReader serves range scans from one open transaction
type sqliteRangeReader struct {
	stmt *sql.Stmt
}

// Range implements RangeReader
func (r *sqliteRangeReader) Range(ctx context.Context, lo, hi int64, fn func(Record) error) error {
	rows, err := r.stmt.QueryContext(ctx, lo, hi)
	if err != nil {
		return fmt.Errorf("failed to query range [%d, %d]: %w", lo, hi, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// View runs fn against a single transaction so every scan sees the same snapshot
func (s *SQLiteBackend) View(ctx context.Context, fn func(r RangeReader) error) error {
	return s.withTx(ctx, "view", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, rangeQuerySQL)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		return fn(&sqliteRangeReader{stmt: stmt})
	})
}

// CountRecords returns the number of rows in the fingerprint table
func (s *SQLiteBackend) CountRecords(ctx context.Context) (int64, error) {
	release, err := s.acquire(ctx, "count_records")
	if err != nil {
		return 0, err
	}
	defer release()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&count); err != nil {
		return 0, wrapError("count_records", err)
	}
	return count, nil
}

// ScanRecords visits every record in ascending hash order
func (s *SQLiteBackend) ScanRecords(ctx context.Context, fn func(Record) error) error {
	release, err := s.acquire(ctx, "scan_records")
	if err != nil {
		return err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `SELECT hash, resource_id, t1 FROM fingerprints ORDER BY hash, rowid`)
	if err != nil {
		return wrapError("scan_records", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return wrapError("scan_records", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return wrapError("scan_records", rows.Err())
}

// GetMetadata returns the metadata row for resourceID; ok is false when absent
func (s *SQLiteBackend) GetMetadata(ctx context.Context, resourceID uint32) (ResourceMetadata, bool, error) {
	release, err := s.acquire(ctx, "get_metadata")
	if err != nil {
		return ResourceMetadata{}, false, err
	}
	defer release()

	row := s.db.QueryRowContext(ctx, `
		SELECT resource_id, path, duration, num_fingerprints
		FROM resource_metadata WHERE resource_id = ?
	`, int64(resourceID))

	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ResourceMetadata{}, false, nil
	}
	if err != nil {
		return ResourceMetadata{}, false, wrapError("get_metadata", err)
	}
	return m, true, nil
}

// ScanMetadata visits every metadata row in ascending resource id order
func (s *SQLiteBackend) ScanMetadata(ctx context.Context, fn func(ResourceMetadata) error) error {
	release, err := s.acquire(ctx, "scan_metadata")
	if err != nil {
		return err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, path, duration, num_fingerprints
		FROM resource_metadata ORDER BY resource_id
	`)
	if err != nil {
		return wrapError("scan_metadata", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return wrapError("scan_metadata", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return wrapError("scan_metadata", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var hash, resourceID, t1 int64
	if err := row.Scan(&hash, &resourceID, &t1); err != nil {
		return Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	return Record{Hash: hash, ResourceID: uint32(resourceID), T1: uint32(t1)}, nil
}

func scanMetadata(row rowScanner) (ResourceMetadata, error) {
	var (
		resourceID, numFingerprints int64
		path                        string
		duration                    float64
	)
	if err := row.Scan(&resourceID, &path, &duration, &numFingerprints); err != nil {
		return ResourceMetadata{}, err
	}
	return ResourceMetadata{
		ResourceID:      uint32(resourceID),
		Path:            path,
		Duration:        float32(duration),
		NumFingerprints: int32(numFingerprints),
	}, nil
}
