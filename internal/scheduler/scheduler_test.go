package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/ferrors"
)

func TestDequeuePrefersHigherPriority(t *testing.T) {
	s := New(Options{Workers: 0})
	require.NoError(t, s.Submit(Job{ID: "low", Priority: PriorityLow, Run: func() error { return nil }}))
	require.NoError(t, s.Submit(Job{ID: "critical", Priority: PriorityCritical, Run: func() error { return nil }}))
	require.NoError(t, s.Submit(Job{ID: "normal", Priority: PriorityNormal, Run: func() error { return nil }}))

	job, _, ok := s.dequeue()
	require.True(t, ok)
	require.Equal(t, "critical", job.ID)

	job, _, ok = s.dequeue()
	require.True(t, ok)
	require.Equal(t, "normal", job.ID)

	job, _, ok = s.dequeue()
	require.True(t, ok)
	require.Equal(t, "low", job.ID)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	s := New(Options{Workers: 0, MaxQueueSize: 1})
	require.NoError(t, s.Submit(Job{ID: "a", Priority: PriorityNormal, Run: func() error { return nil }}))
	err := s.Submit(Job{ID: "b", Priority: PriorityNormal, Run: func() error { return nil }})
	require.Error(t, err)
	code, ok := ferrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeQueueFull, code)
}

func TestDequeueHoldsBackgroundWhileWorkflowActive(t *testing.T) {
	s := New(Options{Workers: 0, BackgroundSettleDelay: time.Millisecond})
	s.BeginWorkflow("wf-1")
	require.NoError(t, s.Submit(Job{ID: "bg", Priority: PriorityBackground, Run: func() error { return nil }}))

	_, _, ok := s.dequeue()
	require.False(t, ok, "background work must not run while a workflow is active")

	s.EndWorkflow("wf-1")
	time.Sleep(2 * time.Millisecond)

	job, isLow, ok := s.dequeue()
	require.True(t, ok)
	require.Equal(t, "bg", job.ID)
	require.False(t, isLow)
}

func TestDequeueReducesLowConcurrencyWhileWorkflowActive(t *testing.T) {
	s := New(Options{Workers: 0, ReducedLowConcurrency: 1})
	s.BeginWorkflow("wf-1")
	require.NoError(t, s.Submit(Job{ID: "low-1", Priority: PriorityLow, Run: func() error { return nil }}))
	require.NoError(t, s.Submit(Job{ID: "low-2", Priority: PriorityLow, Run: func() error { return nil }}))

	job, isLow, ok := s.dequeue()
	require.True(t, ok)
	require.True(t, isLow)
	require.Equal(t, "low-1", job.ID)

	s.runningLow = 1
	_, _, ok = s.dequeue()
	require.False(t, ok, "second LOW job must wait for the first to finish while a workflow is active")
}

func TestRunProcessesSubmittedJobsConcurrently(t *testing.T) {
	s := New(Options{Workers: 3, BackgroundSettleDelay: time.Millisecond})
	var mu sync.Mutex
	var ran []string

	for i := 0; i < 5; i++ {
		id := []string{"a", "b", "c", "d", "e"}[i]
		require.NoError(t, s.Submit(Job{ID: id, Priority: PriorityNormal, Run: func() error {
			mu.Lock()
			ran = append(ran, id)
			mu.Unlock()
			return nil
		}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 5
	}, 150*time.Millisecond, 5*time.Millisecond)

	cancel()
	<-done
}

func TestNewTaskComputesNextRun(t *testing.T) {
	task, err := NewTask("nightly-cleanup", "purge stale artifacts", "0 2 * * *", "workflow:cleanup")
	require.NoError(t, err)
	require.True(t, task.Enabled)
	require.False(t, task.NextRun.IsZero())
}

func TestNewTaskRejectsInvalidCron(t *testing.T) {
	_, err := NewTask("bad", "", "not a cron expression", "workflow:x")
	require.Error(t, err)
	code, ok := ferrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeInvalidCronExpression, code)
}

func TestTaskDisablesAfterConsecutiveFailures(t *testing.T) {
	task, err := NewTask("flaky", "", "* * * * *", "workflow:flaky")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < maxConsecutiveFailures; i++ {
		require.True(t, task.Enabled)
		task.recordFailure(now)
		now = now.Add(time.Minute)
	}
	require.False(t, task.Enabled)
	require.Equal(t, maxConsecutiveFailures, task.ConsecutiveFailures)
}

func TestTaskRecordSuccessResetsFailureStreak(t *testing.T) {
	task, err := NewTask("flaky", "", "* * * * *", "workflow:flaky")
	require.NoError(t, err)
	task.recordFailure(time.Now())
	task.recordFailure(time.Now())
	require.Equal(t, 2, task.ConsecutiveFailures)

	task.recordSuccess(time.Now())
	require.Equal(t, 0, task.ConsecutiveFailures)
	require.Equal(t, 3, task.RunCount)
}

func TestTaskStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")

	store, err := NewTaskStore(path)
	require.NoError(t, err)

	task, err := NewTaskFromNaturalLanguage("weekly-digest", "send digest", "every sunday at noon", "workflow:digest")
	require.NoError(t, err)
	require.NoError(t, store.Put(task))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := NewTaskStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("weekly-digest")
	require.True(t, ok)
	require.Equal(t, "0 12 * * 0", got.CronExpression)
}

func TestMonitorSubmitsDueTasksAtBackgroundPriority(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTaskStore(filepath.Join(dir, "tasks.yaml"))
	require.NoError(t, err)

	task, err := NewTask("due-now", "", "* * * * *", "workflow:noop")
	require.NoError(t, err)
	task.NextRun = time.Now().Add(-time.Minute)
	require.NoError(t, store.Put(task))

	sched := New(Options{Workers: 0, BackgroundSettleDelay: time.Millisecond})
	time.Sleep(2 * time.Millisecond)

	var invoked int32
	resolve := func(reference string) (Callable, error) {
		return func(ctx context.Context) error {
			invoked++
			return nil
		}, nil
	}

	mon := NewMonitor(store, sched, nil, resolve)
	mon.tick(context.Background())

	job, isLow, ok := sched.dequeue()
	require.True(t, ok)
	require.False(t, isLow)
	require.Equal(t, PriorityBackground, job.Priority)

	require.NoError(t, job.Run())
	require.Equal(t, int32(1), invoked)

	got, ok := store.Get("due-now")
	require.True(t, ok)
	require.Equal(t, 1, got.RunCount)
}
