package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t)
	q := e.Queue()
	owner := NewOwner()
	q.EnqueueWrite(owner, 1000, 1, 5)
	q.EnqueueWrite(owner, 1002, 2, 9)
	require.NoError(t, q.FlushWrites(context.Background(), owner))
	return e
}

func TestFlushQueriesScenarios(t *testing.T) {
	ctx := context.Background()
	e := scenarioEngine(t)
	q := e.Queue()

	t.Run("hits in ascending hash order", func(t *testing.T) {
		owner := NewOwner()
		q.EnqueueQuery(owner, 1000)
		acc, err := q.FlushQueries(ctx, owner, 5, nil)
		require.NoError(t, err)

		hits, ok := acc.Hits(1000)
		require.True(t, ok)
		require.Len(t, hits, 2)
		assert.Equal(t, Hit{QueryHash: 1000, MatchedHash: 1000, T1: 5, ResourceID: 1}, hits[0])
		assert.Equal(t, Hit{QueryHash: 1000, MatchedHash: 1002, T1: 9, ResourceID: 2}, hits[1])
	})

	t.Run("excluded resources are skipped", func(t *testing.T) {
		owner := NewOwner()
		q.EnqueueQuery(owner, 1000)
		acc, err := q.FlushQueries(ctx, owner, 5, ExcludeResources(2))
		require.NoError(t, err)

		hits, ok := acc.Hits(1000)
		require.True(t, ok)
		assert.Equal(t, []Hit{{QueryHash: 1000, MatchedHash: 1000, T1: 5, ResourceID: 1}}, hits)
	})

	t.Run("no candidates means no key", func(t *testing.T) {
		owner := NewOwner()
		q.EnqueueQuery(owner, 5000)
		acc, err := q.FlushQueries(ctx, owner, 5, nil)
		require.NoError(t, err)

		_, ok := acc.Hits(5000)
		assert.False(t, ok)
		assert.Zero(t, acc.Len())
	})

	t.Run("fully excluded hash has no key", func(t *testing.T) {
		owner := NewOwner()
		q.EnqueueQuery(owner, 1002)
		acc, err := q.FlushQueries(ctx, owner, 0, ExcludeResources(2))
		require.NoError(t, err)
		assert.NotContains(t, acc, int64(1002))
	})
}

func TestFlushQueriesIntoAppends(t *testing.T) {
	ctx := context.Background()
	e := scenarioEngine(t)
	q := e.Queue()
	owner := NewOwner()
	acc := NewMatchAccumulator()

	q.EnqueueQuery(owner, 1000)
	require.NoError(t, q.FlushQueriesInto(ctx, owner, acc, 0, nil))
	q.EnqueueQuery(owner, 1000)
	require.NoError(t, q.FlushQueriesInto(ctx, owner, acc, 0, nil))

	hits, _ := acc.Hits(1000)
	assert.Len(t, hits, 2)
	assert.Zero(t, q.Pending(owner).Queries)

	assert.Error(t, q.FlushQueriesInto(ctx, owner, nil, 0, nil))
	assert.ErrorIs(t, q.FlushQueriesInto(ctx, owner, acc, -1, nil), ErrInvalidRange)
}

func TestFlushEmptyBuffersAreNoops(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	q := e.Queue()
	owner := NewOwner()

	assert.NoError(t, q.FlushWrites(ctx, owner))
	assert.NoError(t, q.FlushDeletes(ctx, owner))
	acc, err := q.FlushQueries(ctx, owner, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, acc.Len())
}

func TestFailedFlushKeepsBuffer(t *testing.T) {
	ctx := context.Background()
	fb := &faultyBackend{Backend: newTestBackend(t)}
	e := newEngineOver(t, fb)
	q := e.Queue()
	owner := NewOwner()

	q.EnqueueWrite(owner, 1, 1, 1)
	q.EnqueueWrite(owner, 2, 1, 2)
	q.EnqueueDelete(owner, 3, 1, 3)
	q.EnqueueQuery(owner, 1)

	fb.failInsert.Store(true)
	fb.failDelete.Store(true)
	fb.failView.Store(true)

	err := q.FlushWrites(ctx, owner)
	require.ErrorIs(t, err, errInjected)
	require.ErrorIs(t, q.FlushDeletes(ctx, owner), errInjected)

	acc := NewMatchAccumulator()
	acc[77] = []Hit{{QueryHash: 77}}
	require.ErrorIs(t, q.FlushQueriesInto(ctx, owner, acc, 0, nil), errInjected)
	assert.Equal(t, MatchAccumulator{77: {{QueryHash: 77}}}, acc, "a failed flush must not touch the accumulator")

	assert.Equal(t, PendingCounts{Writes: 2, Deletes: 1, Queries: 1}, q.Pending(owner))

	// the caller retries once the backend recovers
	fb.failInsert.Store(false)
	fb.failView.Store(false)
	require.NoError(t, q.FlushWrites(ctx, owner))
	assert.Zero(t, q.Pending(owner).Writes)
	assert.Len(t, records(t, e, 1, 1), 2)

	acc, err = q.FlushQueries(ctx, owner, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.TotalHits())
}

func TestDiscardPending(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	q := e.Queue()
	owner := NewOwner()

	q.EnqueueWrite(owner, 1, 1, 1)
	q.DiscardPending(owner)
	assert.Zero(t, q.Pending(owner).Writes)
	require.NoError(t, q.FlushWrites(ctx, owner))

	n, err := e.Index().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushDeletes(t *testing.T) {
	ctx := context.Background()
	e := scenarioEngine(t)
	q := e.Queue()
	owner := NewOwner()

	q.EnqueueDelete(owner, 1002, 2, 9)
	q.EnqueueDelete(owner, 4242, 4, 4)
	require.NoError(t, q.FlushDeletes(ctx, owner))
	assert.Zero(t, q.Pending(owner).Deletes)

	assert.Equal(t, []Record{{Hash: 1000, ResourceID: 1, T1: 5}}, records(t, e, 1000, 5))
}

func TestConcurrentOwners(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	q := e.Queue()

	const (
		producers = 8
		perOwner  = 100
	)

	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			owner := NewOwner()
			for i := 0; i < perOwner; i++ {
				q.EnqueueWrite(owner, int64(p*perOwner+i), uint32(p), uint32(i))
			}
			if got := q.Pending(owner).Writes; got != perOwner {
				errs <- fmt.Errorf("owner %d sees %d pending writes", p, got)
				return
			}
			errs <- q.FlushWrites(ctx, owner)
		}(p)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, producers, q.Owners())

	n, err := e.Index().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(producers*perOwner), n)
}

func TestRelease(t *testing.T) {
	e := newTestEngine(t)
	q := e.Queue()
	owner := NewOwner()

	q.EnqueueQuery(owner, 1)
	assert.Equal(t, 1, q.Owners())
	q.Release(owner)
	assert.Zero(t, q.Owners())
	assert.Equal(t, PendingCounts{}, q.Pending(owner))
}

func TestFlushRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := newTestBackend(t)
	e, err := NewEngine(backend, Config{FlushRateLimit: 0.001})
	require.NoError(t, err)
	q := e.Queue()
	owner := NewOwner()

	q.EnqueueWrite(owner, 1, 1, 1)
	require.NoError(t, q.FlushWrites(ctx, owner))

	// the single burst token is spent; a cancelled wait surfaces the cancellation
	q.EnqueueWrite(owner, 2, 1, 2)
	cancel()
	require.Error(t, q.FlushWrites(ctx, owner))
	assert.Equal(t, 1, q.Pending(owner).Writes)
}
