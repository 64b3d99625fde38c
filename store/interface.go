package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by operations that target a task ID with no row.
var ErrNotFound = errors.New("task not found")

// TaskStore is the durable persistence port for tasks. It abstracts over
// SQLite (default), Postgres and an in-memory backend used in tests.
//
// The store is the single source of truth for task state: every mutation
// goes through it, and claims are atomic so that two callers never observe
// the same task as claimable.
type TaskStore interface {
	// Insert writes a new task row. It fails if the ID already exists.
	Insert(ctx context.Context, task *Task) error

	// Upsert writes the task, overwriting the mutable columns of an
	// existing row (status, updated_at, started_at, completed_at, result,
	// error, retry_count, config). ID and created_at are preserved.
	Upsert(ctx context.Context, task *Task) error

	// Get returns the task or nil when no row matches.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns a page of tasks ordered by created_at ascending.
	List(ctx context.Context, page Pagination) ([]*Task, error)

	// ClaimNextPending atomically transitions up to limit Pending tasks of
	// the given kind to Processing and returns them, ordered by priority
	// then created_at. Claimed tasks have started_at stamped.
	ClaimNextPending(ctx context.Context, kind Kind, limit int) ([]*Task, error)

	// FindByStatus returns all tasks in the given status, ordered by
	// priority then created_at.
	FindByStatus(ctx context.Context, status Status) ([]*Task, error)

	// FindTimedOut returns Processing tasks whose started_at plus timeout
	// lies in the past. Tasks without a timeout are never returned.
	FindTimedOut(ctx context.Context) ([]*Task, error)

	// UpdateStatus transitions the task to status, stamping updated_at,
	// started_at on the first entry to Processing and completed_at on the
	// first entry to a terminal state. taskErr is recorded when the new
	// status is Failed.
	UpdateStatus(ctx context.Context, id string, status Status, taskErr string) error

	// TransitionProcessing atomically settles a Processing task: it moves
	// the task to the given status and persists the attempt's result, error
	// and retry count in the same guarded write, stamping completed_at once
	// on entry to a terminal status. Returns false when the row is no
	// longer Processing, so a task the timeout sweep (or a worker) already
	// settled is never written over.
	TransitionProcessing(ctx context.Context, id string, to Status, result *Result, taskErr string, retryCount int) (bool, error)

	// UpdatePriority rewrites the priority of the task iff it is still
	// Pending, stamping updated_at. Returns false when no Pending row with
	// that ID exists.
	UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error)

	// Delete removes the task row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep deletes Completed and Failed tasks whose updated_at is before
	// the cutoff and returns how many rows went away.
	Sweep(ctx context.Context, before time.Time) (int64, error)

	// Close releases the underlying connection resources.
	Close() error
}
