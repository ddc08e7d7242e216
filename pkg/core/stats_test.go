package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsEmpty(t *testing.T) {
	e := newTestEngine(t)

	st, err := e.Stats().Collect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Backend: "SQLite"}, st)

	var buf bytes.Buffer
	require.NoError(t, e.Stats().Report(context.Background(), &buf, true))
	assert.Contains(t, buf.String(), "> Avg prints per second:   0.0fp/s")
	assert.Contains(t, buf.String(), "> 0 audio files")
}

func TestStatsDetailed(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	insert(t, e, Record{Hash: 1, ResourceID: 1, T1: 1}, Record{Hash: 2, ResourceID: 2, T1: 1})

	c := e.Catalog()
	require.NoError(t, c.Upsert(ctx, 1, "slow.wav", 10, 50))  // 5 fp/s
	require.NoError(t, c.Upsert(ctx, 2, "fast.wav", 2, 40))   // 20 fp/s
	require.NoError(t, c.Upsert(ctx, 3, "middle.wav", 8, 80)) // 10 fp/s

	st, err := e.Stats().Collect(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalRecords)
	assert.Equal(t, int64(3), st.Resources)
	assert.InDelta(t, 20.0, st.TotalDuration, 1e-9)
	assert.Equal(t, int64(170), st.TotalFingerprints)
	assert.InDelta(t, 8.5, st.AvgPrintsPerSecond, 1e-9)
	assert.InDelta(t, 5.0, st.MinPrintsPerSecond, 1e-9)
	assert.Equal(t, "slow.wav", st.MinPath)
	assert.InDelta(t, 20.0, st.MaxPrintsPerSecond, 1e-9)
	assert.Equal(t, "fast.wav", st.MaxPath)

	summary, err := e.Stats().Collect(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Backend: "SQLite", TotalRecords: 2}, summary)
}

func TestStatsTiesKeepFirstResource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	c := e.Catalog()
	require.NoError(t, c.Upsert(ctx, 2, "b.wav", 1, 10))
	require.NoError(t, c.Upsert(ctx, 1, "a.wav", 2, 20))
	require.NoError(t, c.Upsert(ctx, 3, "c.wav", 4, 40))

	st, err := e.Stats().Collect(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "a.wav", st.MinPath)
	assert.Equal(t, "a.wav", st.MaxPath)
}

func TestStatsZeroDuration(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Catalog().Upsert(ctx, 1, "empty.wav", 0, 0))
	require.NoError(t, e.Catalog().Upsert(ctx, 2, "blip.wav", 0, 3))

	st, err := e.Stats().Collect(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, st.AvgPrintsPerSecond)
	assert.Equal(t, "empty.wav", st.MinPath)
	assert.Equal(t, "blip.wav", st.MaxPath)
	assert.InDelta(t, 3/ppsEpsilon, st.MaxPrintsPerSecond, 1)
}

func TestWriteReport(t *testing.T) {
	st := Statistics{
		Backend:            "SQLite",
		TotalRecords:       12,
		Resources:          2,
		TotalDuration:      3.5,
		TotalFingerprints:  12,
		AvgPrintsPerSecond: 12 / 3.5,
		MinPrintsPerSecond: 2,
		MinPath:            "a.wav",
		MaxPrintsPerSecond: 5,
		MaxPath:            "b.wav",
	}

	var brief bytes.Buffer
	require.NoError(t, WriteReport(&brief, st, false))
	assert.Equal(t, "[SQLITE INDEX TOTALS]\n=========================\n> 12 fingerprint hashes\n=========================\n\n", brief.String())

	var full bytes.Buffer
	require.NoError(t, WriteReport(&full, st, true))
	out := full.String()
	assert.Contains(t, out, "[SQLITE INDEX INFO]\n")
	assert.Contains(t, out, "> 2 audio files\n")
	assert.Contains(t, out, "> 3.500 seconds of audio\n")
	assert.Contains(t, out, "> Avg prints per second:   3.4fp/s\n")
	assert.Contains(t, out, "> Min prints per second:   2.0fp/s 'a.wav'\n")
	assert.Contains(t, out, "> Max prints per second:   5.0fp/s 'b.wav'\n")
}
