package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccwatch/internal/events"
	"ccwatch/internal/usage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func snapAt(fetched time.Time, fiveHour, sevenDay *usage.Window) *usage.Snapshot {
	return &usage.Snapshot{FiveHour: fiveHour, SevenDay: sevenDay, FetchedAt: fetched}
}

func window(utilization float64, resetsAt time.Time) *usage.Window {
	return &usage.Window{Utilization: utilization, ResetsAt: resetsAt}
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	reset := base.Add(3 * time.Hour)
	require.NoError(t, store.Record(ctx, snapAt(base, window(12.5, reset), window(40, reset))))
	require.NoError(t, store.Record(ctx, snapAt(base.Add(time.Minute), window(13, reset), nil)))
	require.NoError(t, store.Record(ctx, snapAt(base.Add(2*time.Minute), nil, nil)))

	points, err := store.Query(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, points, 3)

	// Newest first.
	assert.True(t, points[0].FetchedAt.After(points[1].FetchedAt))
	assert.True(t, points[1].FetchedAt.After(points[2].FetchedAt))

	oldest := points[2]
	require.NotNil(t, oldest.FiveHourUtilization)
	assert.InDelta(t, 12.5, *oldest.FiveHourUtilization, 0.001)
	require.NotNil(t, oldest.FiveHourResetsAt)
	assert.True(t, oldest.FiveHourResetsAt.Equal(reset))
	require.NotNil(t, oldest.SevenDayUtilization)
	assert.InDelta(t, 40, *oldest.SevenDayUtilization, 0.001)

	newest := points[0]
	assert.Nil(t, newest.FiveHourUtilization)
	assert.Nil(t, newest.SevenDayUtilization)
	assert.Nil(t, newest.FiveHourResetsAt)
}

func TestQuerySinceAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	for i := 0; i < 5; i++ {
		fetched := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(ctx, snapAt(fetched, window(float64(i), fetched.Add(time.Hour)), nil)))
	}

	points, err := store.Query(ctx, base.Add(2*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, points, 3)

	points, err = store.Query(ctx, base, 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].FetchedAt.Equal(base.Add(4*time.Minute)))
}

func TestRecordNilSnapshotIsNoop(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Record(context.Background(), nil))

	points, err := store.Query(context.Background(), time.UnixMilli(0), 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestPruneRemovesExpiredRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000).UTC()
	store.retention = 24 * time.Hour
	store.now = func() time.Time { return now }

	require.NoError(t, store.Record(ctx, snapAt(now.Add(-48*time.Hour), window(1, now), nil)))
	require.NoError(t, store.Record(ctx, snapAt(now.Add(-25*time.Hour), window(2, now), nil)))
	require.NoError(t, store.Record(ctx, snapAt(now.Add(-time.Hour), window(3, now), nil)))

	removed, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	points, err := store.Query(ctx, time.UnixMilli(0), 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, points[0].FiveHourUtilization)
	assert.InDelta(t, 3, *points[0].FiveHourUtilization, 0.001)

	removed, err = store.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSubscribeRecordsPublishedSnapshots(t *testing.T) {
	store := openTestStore(t)
	hub := events.NewHub()
	unsubscribe := store.Subscribe(hub)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Run(ctx)
	}()

	fetched := time.UnixMilli(1_700_000_000_000).UTC()
	hub.Publish(ctx, events.TopicSnapshotUpdated, snapAt(fetched, window(50, fetched.Add(time.Hour)), nil), nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		points, err := store.Query(context.Background(), time.UnixMilli(0), 0)
		require.NoError(t, err)
		if len(points) == 1 {
			require.NotNil(t, points[0].FiveHourUtilization)
			assert.InDelta(t, 50, *points[0].FiveHourUtilization, 0.001)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}
