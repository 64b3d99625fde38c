package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/store"
)

func TestWorkerDrainsBacklog(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := m.Submit(ctx, testConfig(store.PriorityNormal))
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	w := NewWorker(store.KindTranscribe, m)
	w.pollInterval = 10 * time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			status, err := m.TaskStatus(ctx, id)
			if err != nil || status != store.StatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}

func TestWorkerDeadlineFailsTask(t *testing.T) {
	m, proc := newTestManager(t)
	proc.processFn = func(ctx context.Context, task *store.Task) (*store.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx := context.Background()

	cfg := testConfig(store.PriorityNormal)
	cfg.MaxRetries = 0
	cfg.TimeoutSeconds = 1
	submitted, err := m.Submit(ctx, cfg)
	require.NoError(t, err)

	task, err := m.ClaimOne(ctx, store.KindTranscribe)
	require.NoError(t, err)
	require.NotNil(t, task)

	w := NewWorker(store.KindTranscribe, m)
	w.process(ctx, task)

	final, err := m.GetTask(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "context deadline exceeded")
}

func TestWorkerAbsorbsProcessorErrors(t *testing.T) {
	m, proc := newTestManager(t)
	proc.processFn = func(ctx context.Context, task *store.Task) (*store.Result, error) {
		return nil, errors.New("engine exploded")
	}
	ctx := context.Background()

	cfg := testConfig(store.PriorityNormal)
	cfg.MaxRetries = 0
	submitted, err := m.Submit(ctx, cfg)
	require.NoError(t, err)

	task, err := m.ClaimOne(ctx, store.KindTranscribe)
	require.NoError(t, err)
	w := NewWorker(store.KindTranscribe, m)
	w.process(ctx, task)

	final, err := m.GetTask(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, final.Status)
	assert.Equal(t, "engine exploded", final.Error)
}

func TestSchedulerSweepsAndStops(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := time.Now().Add(-301 * time.Second)
	stuck := &store.Task{
		ID:        "task-stuck",
		Status:    store.StatusProcessing,
		Config:    testConfig(store.PriorityNormal),
		CreatedAt: started,
		UpdatedAt: started,
		StartedAt: &started,
	}
	stuck.Config.TimeoutSeconds = 300
	require.NoError(t, m.Store().Insert(ctx, stuck))

	s := NewScheduler(m)
	s.sweepInterval = 20 * time.Millisecond
	s.SpawnWorker(ctx, store.KindTranscribe)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		status, err := m.TaskStatus(ctx, "task-stuck")
		return err == nil && status == store.StatusTimedOut
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestSchedulerRequeuesRetrying(t *testing.T) {
	m, proc := newTestManager(t)
	attempts := 0
	proc.processFn = func(ctx context.Context, task *store.Task) (*store.Result, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return &store.Result{Transcribe: &store.TranscribeResult{Text: "second try"}}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(store.PriorityNormal)
	cfg.MaxRetries = 2
	submitted, err := m.Submit(ctx, cfg)
	require.NoError(t, err)

	s := NewScheduler(m)
	s.sweepInterval = 20 * time.Millisecond
	s.SpawnWorker(ctx, store.KindTranscribe)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		final, err := m.GetTask(ctx, submitted.ID)
		return err == nil && final.Status == store.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	final, err := m.GetTask(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, "second try", final.Result.Transcribe.Text)

	cancel()
	<-done
}
