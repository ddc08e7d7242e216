package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAccumulator(t *testing.T) {
	acc := NewMatchAccumulator()
	acc.add(5, Record{Hash: 6, ResourceID: 1, T1: 1}, nil)
	acc.add(5, Record{Hash: 7, ResourceID: 2, T1: 2}, ExcludeResources(2))
	acc.add(-3, Record{Hash: -3, ResourceID: 3, T1: 3}, ExcludeResources(2))

	assert.Equal(t, 2, acc.Len())
	assert.Equal(t, 2, acc.TotalHits())
	assert.Equal(t, []int64{-3, 5}, acc.Keys())

	other := NewMatchAccumulator()
	other.add(5, Record{Hash: 4, ResourceID: 9, T1: 9}, nil)
	other.add(8, Record{Hash: 8, ResourceID: 9, T1: 9}, nil)
	acc.Merge(other)

	hits, ok := acc.Hits(5)
	assert.True(t, ok)
	assert.Equal(t, []int64{6, 4}, []int64{hits[0].MatchedHash, hits[1].MatchedHash})
	assert.Equal(t, []int64{-3, 5, 8}, acc.Keys())
	assert.Equal(t, 4, acc.TotalHits())

	_, ok = acc.Hits(100)
	assert.False(t, ok)
}
