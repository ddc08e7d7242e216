package core

import (
	"context"
	"errors"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/liliang-cn/sqprint/internal/syncmap"
)

// OwnerID identifies a producer and its pending-operation buffers
type OwnerID uuid.UUID

// NewOwner issues a fresh owner handle
func NewOwner() OwnerID {
	return OwnerID(uuid.New())
}

// String returns the canonical uuid form
func (o OwnerID) String() string {
	return uuid.UUID(o).String()
}

// PendingCounts reports the sizes of an owner's buffers
type PendingCounts struct {
	Writes  int `json:"writes"`
	Deletes int `json:"deletes"`
	Queries int `json:"queries"`
}

// ownerQueues holds one producer's buffers. Only the owning producer
// touches them after registration, so they carry no lock.
type ownerQueues struct {
	writes  []Record
	deletes []Record
	queries []int64
}

// OperationQueue buffers writes, deletes and queries per owner and commits
// each buffer as one transaction on flush.
type OperationQueue struct {
	index   *FingerprintIndex
	owners  syncmap.Map[OwnerID, *ownerQueues]
	limiter *rate.Limiter
	logger  Logger
}

// NewOperationQueue creates a queue flushing through index. flushRate limits
// flush transactions per second; 0 disables throttling.
func NewOperationQueue(index *FingerprintIndex, flushRate float64, logger Logger) *OperationQueue {
	q := &OperationQueue{
		index:  index,
		logger: loggerOrNop(logger),
	}
	if flushRate > 0 {
		burst := int(flushRate)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(flushRate), burst)
	}
	return q
}

// queues returns the owner's buffers, registering them on first use
func (q *OperationQueue) queues(owner OwnerID) *ownerQueues {
	if oq, ok := q.owners.Load(owner); ok {
		return oq
	}
	oq, _ := q.owners.LoadOrStore(owner, &ownerQueues{})
	return oq
}

// EnqueueWrite stages a record for insertion
func (q *OperationQueue) EnqueueWrite(owner OwnerID, hash int64, resourceID, t1 uint32) {
	oq := q.queues(owner)
	oq.writes = append(oq.writes, Record{Hash: hash, ResourceID: resourceID, T1: t1})
}

// EnqueueDelete stages a record for deletion
func (q *OperationQueue) EnqueueDelete(owner OwnerID, hash int64, resourceID, t1 uint32) {
	oq := q.queues(owner)
	oq.deletes = append(oq.deletes, Record{Hash: hash, ResourceID: resourceID, T1: t1})
}

// EnqueueQuery stages a hash for the next FlushQueries
func (q *OperationQueue) EnqueueQuery(owner OwnerID, hash int64) {
	oq := q.queues(owner)
	oq.queries = append(oq.queries, hash)
}

// Pending returns the sizes of the owner's buffers
func (q *OperationQueue) Pending(owner OwnerID) PendingCounts {
	oq, ok := q.owners.Load(owner)
	if !ok {
		return PendingCounts{}
	}
	return PendingCounts{
		Writes:  len(oq.writes),
		Deletes: len(oq.deletes),
		Queries: len(oq.queries),
	}
}

// Owners returns the number of registered owners
func (q *OperationQueue) Owners() int {
	return q.owners.Len()
}

// FlushWrites commits the owner's pending writes in one transaction. The
// buffer is cleared only when the commit succeeds.
func (q *OperationQueue) FlushWrites(ctx context.Context, owner OwnerID) error {
	oq, ok := q.owners.Load(owner)
	if !ok || len(oq.writes) == 0 {
		return nil
	}
	if err := q.wait(ctx); err != nil {
		return wrapError("flush_writes", err)
	}

	if err := q.index.InsertBatch(ctx, oq.writes); err != nil {
		q.logger.Warn("flush writes failed", "owner", owner, "pending", len(oq.writes), "error", err)
		return wrapError("flush_writes", err)
	}
	q.logger.Debug("flushed writes", "owner", owner, "count", len(oq.writes))
	oq.writes = oq.writes[:0]
	return nil
}

// FlushDeletes commits the owner's pending deletes in one transaction. The
// buffer is cleared only when the commit succeeds.
func (q *OperationQueue) FlushDeletes(ctx context.Context, owner OwnerID) error {
	oq, ok := q.owners.Load(owner)
	if !ok || len(oq.deletes) == 0 {
		return nil
	}
	if err := q.wait(ctx); err != nil {
		return wrapError("flush_deletes", err)
	}

	if err := q.index.DeleteBatch(ctx, oq.deletes); err != nil {
		q.logger.Warn("flush deletes failed", "owner", owner, "pending", len(oq.deletes), "error", err)
		return wrapError("flush_deletes", err)
	}
	q.logger.Debug("flushed deletes", "owner", owner, "count", len(oq.deletes))
	oq.deletes = oq.deletes[:0]
	return nil
}

// FlushQueries runs a range query for every pending query hash and returns
// the hits, skipping records whose resource is in excluded (nil excludes
// nothing).
func (q *OperationQueue) FlushQueries(ctx context.Context, owner OwnerID, rng int64, excluded *roaring.Bitmap) (MatchAccumulator, error) {
	acc := NewMatchAccumulator()
	if err := q.FlushQueriesInto(ctx, owner, acc, rng, excluded); err != nil {
		return nil, err
	}
	return acc, nil
}

// FlushQueriesInto is FlushQueries appending into an existing accumulator.
// All scans share one read transaction; acc and the query buffer are only
// updated once every scan has succeeded.
func (q *OperationQueue) FlushQueriesInto(ctx context.Context, owner OwnerID, acc MatchAccumulator, rng int64, excluded *roaring.Bitmap) error {
	if rng < 0 {
		return wrapError("flush_queries", ErrInvalidRange)
	}
	if acc == nil {
		return wrapError("flush_queries", errors.New("nil accumulator"))
	}
	oq, ok := q.owners.Load(owner)
	if !ok || len(oq.queries) == 0 {
		return nil
	}
	if err := q.wait(ctx); err != nil {
		return wrapError("flush_queries", err)
	}

	batch := NewMatchAccumulator()
	err := q.index.backend.View(ctx, func(r RangeReader) error {
		for _, h := range oq.queries {
			err := scanWindow(ctx, r, h, rng, func(rec Record) error {
				batch.add(h, rec, excluded)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		q.logger.Warn("flush queries failed", "owner", owner, "pending", len(oq.queries), "error", err)
		return wrapError("flush_queries", err)
	}

	q.logger.Debug("flushed queries", "owner", owner, "count", len(oq.queries), "matched", batch.Len())
	acc.Merge(batch)
	oq.queries = oq.queries[:0]
	return nil
}

// DiscardPending drops the owner's pending writes without persisting them
func (q *OperationQueue) DiscardPending(owner OwnerID) {
	if oq, ok := q.owners.Load(owner); ok {
		oq.writes = nil
	}
}

// Release forgets the owner and all of its buffers
func (q *OperationQueue) Release(owner OwnerID) {
	q.owners.Delete(owner)
}

func (q *OperationQueue) wait(ctx context.Context) error {
	if q.limiter == nil {
		return nil
	}
	return q.limiter.Wait(ctx)
}
