package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndReadRuns(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	// Empty history
	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, Run{
		Workspace:  "live",
		Postfix:    "100",
		Nodes:      42,
		Partitions: 2,
		ItemErrors: 1,
		StartedAt:  started,
		Duration:   3 * time.Second,
	}))
	require.NoError(t, store.RecordRun(ctx, Run{
		Workspace: "live",
		Postfix:   "200",
		Nodes:     43,
		Update:    true,
		StartedAt: started.Add(time.Hour),
		Duration:  time.Second,
	}))

	// LastRun returns the newest entry
	last, err = store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "200", last.Postfix)
	assert.True(t, last.Update)
	assert.Equal(t, time.Second, last.Duration)

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 42, runs[1].Nodes)
	assert.Equal(t, 1, runs[1].ItemErrors)
	assert.Equal(t, started, runs[1].StartedAt)
}

func TestHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(ctx, Run{Workspace: "live", Nodes: 7, StartedAt: time.Now()}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 7, last.Nodes)
}
