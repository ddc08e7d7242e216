package core

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertRecords appends records in a single transaction
func (s *SQLiteBackend) InsertRecords(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	return s.withTx(ctx, "insert_records", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO fingerprints (hash, resource_id, t1) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, r := range recs {
			if _, err := stmt.ExecContext(ctx, r.Hash, int64(r.ResourceID), int64(r.T1)); err != nil {
				return fmt.Errorf("failed to insert record at index %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteRecords removes every row matching one of the given triples
func (s *SQLiteBackend) DeleteRecords(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	return s.withTx(ctx, "delete_records", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM fingerprints WHERE hash = ? AND resource_id = ? AND t1 = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, r := range recs {
			if _, err := stmt.ExecContext(ctx, r.Hash, int64(r.ResourceID), int64(r.T1)); err != nil {
				return fmt.Errorf("failed to delete record at index %d: %w", i, err)
			}
		}
		return nil
	})
}

// ClearRecords empties the fingerprint table
func (s *SQLiteBackend) ClearRecords(ctx context.Context) error {
	return s.withTx(ctx, "clear_records", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`)
		return err
	})
}

// UpsertMetadata replaces the whole metadata row for m.ResourceID
func (s *SQLiteBackend) UpsertMetadata(ctx context.Context, m ResourceMetadata) error {
	return s.withTx(ctx, "upsert_metadata", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resource_metadata (resource_id, path, duration, num_fingerprints)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (resource_id) DO UPDATE SET
				path = excluded.path,
				duration = excluded.duration,
				num_fingerprints = excluded.num_fingerprints
		`, int64(m.ResourceID), m.Path, float64(m.Duration), int64(m.NumFingerprints))
		return err
	})
}

// DeleteMetadata removes the row for resourceID if present
func (s *SQLiteBackend) DeleteMetadata(ctx context.Context, resourceID uint32) error {
	return s.withTx(ctx, "delete_metadata", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM resource_metadata WHERE resource_id = ?`, int64(resourceID))
		return err
	})
}

// ClearMetadata empties the metadata table
func (s *SQLiteBackend) ClearMetadata(ctx context.Context) error {
	return s.withTx(ctx, "clear_metadata", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM resource_metadata`)
		return err
	})
}

// Clear empties both tables in one transaction
func (s *SQLiteBackend) Clear(ctx context.Context) error {
	return s.withTx(ctx, "clear", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`); err != nil {
			return fmt.Errorf("failed to clear fingerprints: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_metadata`); err != nil {
			return fmt.Errorf("failed to clear metadata: %w", err)
		}
		return nil
	})
}
