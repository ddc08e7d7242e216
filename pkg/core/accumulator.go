package core

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// MatchAccumulator maps each queried hash to the hits found for it.
// A key is present only when at least one hit survived exclusion.
type MatchAccumulator map[int64][]Hit

// NewMatchAccumulator returns an empty accumulator
func NewMatchAccumulator() MatchAccumulator {
	return make(MatchAccumulator)
}

// Hits returns the hits recorded for queryHash; ok is false when the hash
// produced no candidates.
func (a MatchAccumulator) Hits(queryHash int64) (hits []Hit, ok bool) {
	hits, ok = a[queryHash]
	return hits, ok
}

// Len returns the number of query hashes with at least one hit
func (a MatchAccumulator) Len() int {
	return len(a)
}

// TotalHits returns the number of hits across all keys
func (a MatchAccumulator) TotalHits() int {
	n := 0
	for _, hits := range a {
		n += len(hits)
	}
	return n
}

// Keys returns the query hashes in ascending order
func (a MatchAccumulator) Keys() []int64 {
	keys := make([]int64, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Merge appends every hit list of other onto a, preserving order
func (a MatchAccumulator) Merge(other MatchAccumulator) {
	for k, hits := range other {
		a[k] = append(a[k], hits...)
	}
}

// add records rec as a hit for queryHash unless its resource is excluded
func (a MatchAccumulator) add(queryHash int64, rec Record, excluded *roaring.Bitmap) {
	if excluded != nil && excluded.Contains(rec.ResourceID) {
		return
	}
	a[queryHash] = append(a[queryHash], Hit{
		QueryHash:   queryHash,
		MatchedHash: rec.Hash,
		T1:          rec.T1,
		ResourceID:  rec.ResourceID,
	})
}

// ExcludeResources builds an exclusion set for FlushQueries
func ExcludeResources(ids ...uint32) *roaring.Bitmap {
	return roaring.BitmapOf(ids...)
}
