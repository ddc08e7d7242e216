package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineClear(t *testing.T) {
	ctx := context.Background()
	e := scenarioEngine(t)
	require.NoError(t, e.Catalog().Upsert(ctx, 1, "a.wav", 1, 1))
	require.NoError(t, e.Catalog().Upsert(ctx, 2, "b.wav", 1, 1))

	require.NoError(t, e.Clear(ctx))

	for _, h := range []int64{1000, 1002} {
		assert.Empty(t, records(t, e, h, 100))
	}
	for _, id := range []uint32{1, 2} {
		_, ok, err := e.Catalog().Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestEngineClosed(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, e.Closed())

	err := e.Clear(ctx)
	assert.True(t, IsClosed(err))
	assert.False(t, IsStorageFailure(err))

	err = e.Index().InsertBatch(ctx, []Record{{Hash: 1}})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestNewEngineRejectsNilBackend(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
