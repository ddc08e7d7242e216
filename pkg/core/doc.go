// Package core provides the storage and retrieval engine for landmark
// fingerprints.
//
// An Engine is built once over a Backend and shared by every producer. Each
// producer obtains an OwnerID and buffers writes, deletes and queries in the
// OperationQueue; a flush commits one buffer as a single transaction.
//
// # Key Components
//
//   - FingerprintIndex: append, exact-match delete and ordered range scans over (hash, resource, t1) records.
//   - MetadataCatalog: one row per resource with its path, duration and fingerprint count.
//   - OperationQueue: per-owner pending buffers; a failed flush keeps its buffer for the caller to retry or discard.
//   - MatchAccumulator: query hash to hit list; a hash with no candidates has no key.
//   - StatisticsReporter: record totals and per-corpus prints-per-second figures.
//   - SQLiteBackend: the default Backend, bounded by a ConnPool.
//
// # Observability
//
// Components log through the Logger interface; NewLogger adapts log/slog.
package core
