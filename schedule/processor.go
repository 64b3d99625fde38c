package schedule

import (
	"context"

	"github.com/voxlane/voxlane/store"
)

// Processor executes tasks of one kind. Implementations are registered with
// the Manager before any worker starts; after that the registry is
// read-only.
type Processor interface {
	// Kind identifies which tasks this processor handles.
	Kind() store.Kind

	// Validate rejects malformed kind-specific parameters at submission
	// time, before a task row is created.
	Validate(params store.Params) error

	// Process runs the task to completion. It may block for minutes; the
	// context carries the per-task deadline when one is configured.
	Process(ctx context.Context, task *store.Task) (*store.Result, error)

	// Cancel is a best-effort stop signal for a running task.
	Cancel(task *store.Task)

	// Cleanup releases per-task resources after a terminal transition,
	// such as the materialized input file.
	Cleanup(task *store.Task)
}
