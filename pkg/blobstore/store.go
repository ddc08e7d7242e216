// Package blobstore moves dump streams to and from named blobs, either on
// the local file system or in S3-compatible object storage.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies `errors.Is(err, ErrNotFound)`.
var ErrNotFound = os.ErrNotExist

// Store reads and writes whole blobs by name
type Store interface {
	// Put streams r into the blob name, replacing any previous content.
	// size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens the blob name for reading
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the blob; removing a missing blob is not an error
	Delete(ctx context.Context, name string) error
}
