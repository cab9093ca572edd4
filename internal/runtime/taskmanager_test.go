package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, tm *TaskManager, name string, want TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, info := range tm.List() {
			if info.Name == name && info.Status == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", name, want)
}

func TestStartRejectsDuplicateNames(t *testing.T) {
	tm := NewTaskManager(context.Background())
	defer tm.StopAll()

	require.NoError(t, tm.Start("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.Error(t, tm.Start("worker", func(ctx context.Context) error { return nil }))
}

func TestTaskLifecycleStatuses(t *testing.T) {
	tm := NewTaskManager(context.Background())

	require.NoError(t, tm.Start("ok", func(ctx context.Context) error { return nil }))
	require.NoError(t, tm.Start("broken", func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, tm.Start("long", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	waitForStatus(t, tm, "ok", TaskStopped)
	waitForStatus(t, tm, "broken", TaskFailed)

	require.NoError(t, tm.Stop("long"))
	waitForStatus(t, tm, "long", TaskCanceled)
	tm.Wait()
}

func TestPanicIsRecoveredAsFailure(t *testing.T) {
	tm := NewTaskManager(context.Background())

	require.NoError(t, tm.Start("panicky", func(ctx context.Context) error {
		panic("unexpected")
	}))

	waitForStatus(t, tm, "panicky", TaskFailed)
	for _, info := range tm.List() {
		if info.Name == "panicky" {
			assert.Contains(t, info.Error, "panic")
		}
	}
}

func TestStartPeriodicRunsImmediatelyThenOnTicks(t *testing.T) {
	tm := NewTaskManager(context.Background())
	runs := make(chan struct{}, 16)

	require.NoError(t, tm.StartPeriodic("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs <- struct{}{}
		return nil
	}))

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic task did not run")
		}
	}
	tm.StopAll()
	tm.Wait()
}

func TestStopAllCancelsEverything(t *testing.T) {
	tm := NewTaskManager(context.Background())

	for _, name := range []string{"a", "b"} {
		require.NoError(t, tm.Start(name, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	}
	assert.Equal(t, 2, tm.Running())

	tm.StopAll()
	tm.Wait()
	assert.Equal(t, 0, tm.Running())
}
