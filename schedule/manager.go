package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/observability"
	"github.com/voxlane/voxlane/store"
)

var (
	// ErrUnknownKind is returned when no processor is registered for a
	// submitted config's kind.
	ErrUnknownKind = errors.New("no processor registered for task kind")
	// ErrNotPending is returned when a priority change targets a task that
	// has already been claimed.
	ErrNotPending = errors.New("task is not pending")
)

// Manager owns the processor registry and drives task lifecycle
// transitions. Task state itself lives in the TaskStore; the manager only
// tracks which tasks are currently held by a worker in this process.
type Manager struct {
	store      store.TaskStore
	dispatcher *Dispatcher

	mu         sync.Mutex
	processors map[store.Kind]Processor
	inflight   map[string]struct{}

	log *logrus.Entry
}

func NewManager(ts store.TaskStore, dispatcher *Dispatcher) *Manager {
	return &Manager{
		store:      ts,
		dispatcher: dispatcher,
		processors: make(map[store.Kind]Processor),
		inflight:   make(map[string]struct{}),
		log:        logrus.WithField("component", "manager"),
	}
}

// RegisterProcessor installs a kind binding. Re-registering a kind replaces
// the previous processor. Must happen before workers start.
func (m *Manager) RegisterProcessor(p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors[p.Kind()] = p
}

// Dispatcher exposes the callback sink, for wiring function callbacks and
// the event stream.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Store exposes the task store for read-only API access.
func (m *Manager) Store() store.TaskStore {
	return m.store
}

func (m *Manager) processorFor(kind store.Kind) (Processor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processors[kind]
	return p, ok
}

// Submit validates the config and persists a new Pending task.
func (m *Manager) Submit(ctx context.Context, cfg store.TaskConfig) (*store.Task, error) {
	return m.SubmitWithID(ctx, store.NewTaskID(), cfg)
}

// SubmitWithID persists a new Pending task under a caller-chosen ID. Used
// by ingress, which namespaces the materialized input file by task ID
// before the task row exists.
func (m *Manager) SubmitWithID(ctx context.Context, id string, cfg store.TaskConfig) (*store.Task, error) {
	p, ok := m.processorFor(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
	if err := p.Validate(cfg.Params); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &store.Task{
		ID:        id,
		Status:    store.StatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	observability.TasksSubmitted.WithLabelValues(string(cfg.Kind)).Inc()
	m.log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"kind":     cfg.Kind,
		"priority": cfg.Priority.String(),
	}).Info("task submitted")
	return task, nil
}

// ClaimOne atomically claims the highest-priority Pending task of the kind,
// or returns nil when the queue is empty.
func (m *Manager) ClaimOne(ctx context.Context, kind store.Kind) (*store.Task, error) {
	claimed, err := m.store.ClaimNextPending(ctx, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	task := claimed[0]

	m.mu.Lock()
	if _, dup := m.inflight[task.ID]; dup {
		// the store guarantees claims are exclusive; seeing a duplicate
		// here means a worker leaked its hold
		m.mu.Unlock()
		m.log.WithField("task_id", task.ID).Warn("claimed task already in flight, skipping")
		return nil, nil
	}
	m.inflight[task.ID] = struct{}{}
	m.mu.Unlock()

	observability.TasksInFlight.WithLabelValues(string(kind)).Inc()
	return task, nil
}

func (m *Manager) release(task *store.Task) {
	m.mu.Lock()
	_, held := m.inflight[task.ID]
	delete(m.inflight, task.ID)
	m.mu.Unlock()
	if held {
		observability.TasksInFlight.WithLabelValues(string(task.Kind())).Dec()
	}
}

// Run executes the task's processor and records its runtime. Failure
// handling is the caller's job via HandleFailure.
func (m *Manager) Run(ctx context.Context, task *store.Task) (*store.Result, error) {
	p, ok := m.processorFor(task.Kind())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind())
	}

	start := time.Now()
	res, err := p.Process(ctx, task)
	observability.TaskRuntimeSeconds.WithLabelValues(string(task.Kind())).Observe(time.Since(start).Seconds())
	return res, err
}

// Complete settles the task as Completed with its result and fires the
// callback. The callback happens-after the terminal write, and only when
// this settle won the transition: if the timeout sweep already moved the
// task out of Processing, its callback has fired and this one is dropped.
func (m *Manager) Complete(ctx context.Context, task *store.Task, res *store.Result) error {
	defer m.release(task)

	ok, err := m.store.TransitionProcessing(ctx, task.ID, store.StatusCompleted, res, "", task.RetryCount)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	if !ok {
		m.log.WithField("task_id", task.ID).Warn("task no longer processing, dropping completion")
		return nil
	}
	task.Result = res
	task.Status = store.StatusCompleted

	observability.TasksCompleted.WithLabelValues(string(task.Kind())).Inc()
	m.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind(),
	}).Info("task completed")

	m.dispatcher.FireCompleted(ctx, task)
	m.cleanupTask(task)
	return nil
}

// HandleFailure decides between retry and terminal failure. Below the retry
// budget the task moves to Retrying and will be re-queued by the sweeper;
// at the budget it becomes Failed with the cause recorded, and the callback
// fires. Returns the resulting status.
func (m *Manager) HandleFailure(ctx context.Context, task *store.Task, cause error) (store.Status, error) {
	defer m.release(task)

	if task.RetryCount < task.Config.MaxRetries {
		ok, err := m.store.TransitionProcessing(ctx, task.ID, store.StatusRetrying, nil, "", task.RetryCount+1)
		if err != nil {
			return task.Status, fmt.Errorf("mark task %s retrying: %w", task.ID, err)
		}
		if !ok {
			m.log.WithField("task_id", task.ID).Warn("task no longer processing, dropping retry")
			return m.TaskStatus(ctx, task.ID)
		}
		task.RetryCount++
		task.Status = store.StatusRetrying

		observability.TasksRetried.Inc()
		m.log.WithFields(logrus.Fields{
			"task_id":     task.ID,
			"retry_count": task.RetryCount,
			"max_retries": task.Config.MaxRetries,
		}).WithError(cause).Warn("task failed, will retry")
		return store.StatusRetrying, nil
	}

	ok, err := m.store.TransitionProcessing(ctx, task.ID, store.StatusFailed, nil, cause.Error(), task.RetryCount)
	if err != nil {
		return task.Status, fmt.Errorf("mark task %s failed: %w", task.ID, err)
	}
	if !ok {
		m.log.WithField("task_id", task.ID).Warn("task no longer processing, dropping failure")
		return m.TaskStatus(ctx, task.ID)
	}
	task.Status = store.StatusFailed
	task.Error = cause.Error()

	observability.TasksFailed.WithLabelValues(string(task.Kind())).Inc()
	m.log.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"retry_count": task.RetryCount,
	}).WithError(cause).Error("task failed permanently")

	m.dispatcher.FireFailed(ctx, task)
	m.cleanupTask(task)
	return store.StatusFailed, nil
}

func (m *Manager) cleanupTask(task *store.Task) {
	if p, ok := m.processorFor(task.Kind()); ok {
		p.Cleanup(task)
	}
}

// SweepTimeouts marks overdue Processing tasks TimedOut and fires their
// callbacks. Returns how many tasks were swept.
func (m *Manager) SweepTimeouts(ctx context.Context) (int, error) {
	overdue, err := m.store.FindTimedOut(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, task := range overdue {
		ok, err := m.store.TransitionProcessing(ctx, task.ID, store.StatusTimedOut, nil, "", task.RetryCount)
		if err != nil {
			m.log.WithError(err).WithField("task_id", task.ID).Error("failed to mark task timed out")
			continue
		}
		if !ok {
			// a worker settled the task between the scan and this write
			continue
		}
		task.Status = store.StatusTimedOut
		m.release(task)

		observability.TasksTimedOut.Inc()
		m.log.WithFields(logrus.Fields{
			"task_id": task.ID,
			"timeout": task.Config.TimeoutSeconds,
		}).Warn("task timed out")

		m.dispatcher.FireTimedOut(ctx, task)
		swept++
	}
	return swept, nil
}

// RequeueRetrying moves Retrying tasks back to Pending so workers can claim
// them again. Returns how many tasks were re-queued.
func (m *Manager) RequeueRetrying(ctx context.Context) (int, error) {
	retrying, err := m.store.FindByStatus(ctx, store.StatusRetrying)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, task := range retrying {
		if err := m.store.UpdateStatus(ctx, task.ID, store.StatusPending, ""); err != nil {
			m.log.WithError(err).WithField("task_id", task.ID).Error("failed to requeue task")
			continue
		}
		requeued++
	}
	return requeued, nil
}

// Stats counts tasks by status within one page of the task list.
func (m *Manager) Stats(ctx context.Context, page store.Pagination) (map[store.Status]int, error) {
	tasks, err := m.store.List(ctx, page)
	if err != nil {
		return nil, err
	}
	counts := make(map[store.Status]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// CleanupReport says how many terminal rows a retention pass removed.
type CleanupReport struct {
	CompletedDeleted int64 `json:"completed_deleted"`
	FailedDeleted    int64 `json:"failed_deleted"`
}

// Cleanup deletes Completed and Failed tasks older than the retention
// window. Running it twice back to back deletes nothing the second time.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (CleanupReport, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	failed, err := m.store.FindByStatus(ctx, store.StatusFailed)
	if err != nil {
		return CleanupReport{}, err
	}
	var failedOld int64
	for _, t := range failed {
		if t.UpdatedAt.Before(cutoff) {
			failedOld++
		}
	}

	total, err := m.store.Sweep(ctx, cutoff)
	if err != nil {
		return CleanupReport{}, err
	}

	report := CleanupReport{
		CompletedDeleted: total - failedOld,
		FailedDeleted:    failedOld,
	}
	m.log.WithFields(logrus.Fields{
		"completed_deleted": report.CompletedDeleted,
		"failed_deleted":    report.FailedDeleted,
	}).Info("retention cleanup finished")
	return report, nil
}

// UpdatePriority changes the priority of a still-Pending task. Claimed or
// finished tasks cannot be reordered. The write is guarded at the store, so
// a task claimed concurrently is refused rather than reverted to Pending.
func (m *Manager) UpdatePriority(ctx context.Context, id string, priority store.Priority) error {
	ok, err := m.store.UpdatePriority(ctx, id, priority)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	task, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: task %s is %s", ErrNotPending, id, task.Status)
}

// GetTask returns the task or store.ErrNotFound.
func (m *Manager) GetTask(ctx context.Context, id string) (*store.Task, error) {
	task, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, store.ErrNotFound
	}
	return task, nil
}

// TaskStatus returns just the status of the task.
func (m *Manager) TaskStatus(ctx context.Context, id string) (store.Status, error) {
	task, err := m.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}
