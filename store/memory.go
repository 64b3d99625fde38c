package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps tasks in a map. It implements TaskStore and is used in
// tests and single-process development runs; nothing survives a restart.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// storedTime normalizes timestamps the way the durable backends do, so a
// task read back from any store compares equal at millisecond precision.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func storedTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	st := storedTime(*t)
	return &st
}

func copyTask(t *Task) *Task {
	c := *t
	c.StartedAt = storedTimePtr(t.StartedAt)
	c.CompletedAt = storedTimePtr(t.CompletedAt)
	c.CreatedAt = storedTime(t.CreatedAt)
	c.UpdatedAt = storedTime(t.UpdatedAt)
	return &c
}

func (s *MemoryStore) Insert(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyTask(task)
	if existing, ok := s.tasks[task.ID]; ok {
		// id and created_at are immutable
		c.CreatedAt = existing.CreatedAt
	}
	s.tasks[task.ID] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

func (s *MemoryStore) List(ctx context.Context, page Pagination) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page = page.Check()
	all := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := page.Offset()
	if start >= len(all) {
		return nil, nil
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	out := make([]*Task, 0, end-start)
	for _, t := range all[start:end] {
		out = append(out, copyTask(t))
	}
	return out, nil
}

func (s *MemoryStore) ClaimNextPending(ctx context.Context, kind Kind, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Task
	for _, t := range s.tasks {
		if t.Status == StatusPending && t.Config.Kind == kind {
			pending = append(pending, t)
		}
	}
	sortByPriority(pending)

	if limit < len(pending) {
		pending = pending[:limit]
	}

	now := storedTime(time.Now())
	claimed := make([]*Task, 0, len(pending))
	for _, t := range pending {
		t.Status = StatusProcessing
		t.UpdatedAt = now
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
		claimed = append(claimed, copyTask(t))
	}
	return claimed, nil
}

func (s *MemoryStore) FindByStatus(ctx context.Context, status Status) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sortByPriority(out)
	return out, nil
}

func (s *MemoryStore) FindTimedOut(ctx context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []*Task
	for _, t := range s.tasks {
		if t.Status != StatusProcessing || t.StartedAt == nil || t.Config.TimeoutSeconds <= 0 {
			continue
		}
		deadline := t.StartedAt.Add(time.Duration(t.Config.TimeoutSeconds) * time.Second)
		if deadline.Before(now) {
			out = append(out, copyTask(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	applyStatus(t, status, taskErr, storedTime(time.Now()))
	return nil
}

func (s *MemoryStore) TransitionProcessing(ctx context.Context, id string, to Status, result *Result, taskErr string, retryCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusProcessing {
		return false, nil
	}
	t.Result = result
	t.RetryCount = retryCount
	applyStatus(t, to, taskErr, storedTime(time.Now()))
	return true, nil
}

func (s *MemoryStore) UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	t.Config.Priority = priority
	t.UpdatedAt = storedTime(time.Now())
	return true, nil
}

// applyStatus implements the column-level status transition shared by all
// backends: updated_at always moves, started_at is stamped once on entry to
// Processing, completed_at once on entry to any terminal state.
func applyStatus(t *Task, status Status, taskErr string, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	if status == StatusProcessing && t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	if status.IsTerminal() && t.CompletedAt == nil {
		completed := now
		t.CompletedAt = &completed
	}
	if status == StatusFailed {
		t.Error = taskErr
	}
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, t := range s.tasks {
		if (t.Status == StatusCompleted || t.Status == StatusFailed) && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortByPriority(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Config.Priority != tasks[j].Config.Priority {
			return tasks[i].Config.Priority < tasks[j].Config.Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
