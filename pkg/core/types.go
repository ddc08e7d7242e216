package core

import (
	"context"
	"fmt"
)

// Record is one landmark hash observed at time frame T1 within a resource.
// Records are never updated, only appended or deleted by exact match.
type Record struct {
	Hash       int64  `json:"hash"`
	ResourceID uint32 `json:"resource_id"`
	T1         uint32 `json:"t1"`
}

// String returns a compact representation used in logs
func (r Record) String() string {
	return fmt.Sprintf("(%d, %d, %d)", r.Hash, r.ResourceID, r.T1)
}

// ResourceMetadata is the bookkeeping row kept for each indexed resource
type ResourceMetadata struct {
	ResourceID      uint32  `json:"resource_id"`
	Path            string  `json:"path"`
	Duration        float32 `json:"duration"`         // Seconds
	NumFingerprints int32   `json:"num_fingerprints"` // Hashes extracted for the resource
}

// Hit is a single record matched by a range query for QueryHash
type Hit struct {
	QueryHash   int64  `json:"query_hash"`
	MatchedHash int64  `json:"matched_hash"`
	T1          uint32 `json:"t1"`
	ResourceID  uint32 `json:"resource_id"`
}

// RangeReader scans the fingerprint index inside an open read transaction
type RangeReader interface {
	// Range calls fn for every record with lo <= hash <= hi, in ascending
	// hash order; records sharing a hash are visited in insertion order.
	Range(ctx context.Context, lo, hi int64, fn func(Record) error) error
}

// Backend is the transactional store the engine persists to.
// Implementations must be safe for concurrent use from multiple goroutines.
type Backend interface {
	// Name identifies the backend in reports, e.g. "SQLite"
	Name() string

	// InsertRecords appends all records in one transaction
	InsertRecords(ctx context.Context, recs []Record) error

	// DeleteRecords removes every row equal to one of the given triples in one transaction
	DeleteRecords(ctx context.Context, recs []Record) error

	// View runs fn inside a single read transaction
	View(ctx context.Context, fn func(r RangeReader) error) error

	// CountRecords returns the number of stored records
	CountRecords(ctx context.Context) (int64, error)

	// ScanRecords visits all records in ascending hash order
	ScanRecords(ctx context.Context, fn func(Record) error) error

	// ClearRecords empties the fingerprint index
	ClearRecords(ctx context.Context) error

	// Metadata operations
	UpsertMetadata(ctx context.Context, m ResourceMetadata) error
	GetMetadata(ctx context.Context, resourceID uint32) (ResourceMetadata, bool, error)
	DeleteMetadata(ctx context.Context, resourceID uint32) error
	ScanMetadata(ctx context.Context, fn func(ResourceMetadata) error) error
	ClearMetadata(ctx context.Context) error

	// Clear empties records and metadata together
	Clear(ctx context.Context) error

	// Close releases the connection pool
	Close() error
}
