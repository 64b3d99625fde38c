package schedule

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/store"
)

const (
	defaultPollInterval = time.Second
	defaultErrorBackoff = 100 * time.Millisecond
)

// Worker is one execution loop bound to one task kind. It claims tasks one
// at a time; concurrency within a kind comes from spawning several workers.
type Worker struct {
	kind    store.Kind
	manager *Manager

	pollInterval time.Duration
	errorBackoff time.Duration

	log *logrus.Entry
}

func NewWorker(kind store.Kind, manager *Manager) *Worker {
	return &Worker{
		kind:         kind,
		manager:      manager,
		pollInterval: defaultPollInterval,
		errorBackoff: defaultErrorBackoff,
		log: logrus.WithFields(logrus.Fields{
			"component": "worker",
			"kind":      kind,
		}),
	}
}

// Run loops until the context is canceled. An empty queue backs off for the
// poll interval; a claim error backs off briefly; a processed task is
// followed immediately by the next claim to drain backlog.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started")
	defer w.log.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.manager.ClaimOne(ctx, w.kind)
		if err != nil {
			w.log.WithError(err).Warn("claim failed")
			if !sleepCtx(ctx, w.errorBackoff) {
				return
			}
			continue
		}
		if task == nil {
			if !sleepCtx(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.process(ctx, task)
	}
}

// process runs one claimed task through to a persisted outcome. All errors
// are absorbed here; nothing propagates out of the loop.
func (w *Worker) process(ctx context.Context, task *store.Task) {
	runCtx := ctx
	if task.Config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(task.Config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	res, err := w.manager.Run(runCtx, task)
	if err != nil {
		if _, herr := w.manager.HandleFailure(ctx, task, err); herr != nil {
			w.log.WithError(herr).WithField("task_id", task.ID).Error("failed to record task failure")
		}
		return
	}

	if err := w.manager.Complete(ctx, task, res); err != nil {
		w.log.WithError(err).WithField("task_id", task.ID).Error("failed to record task completion")
	}
}

// sleepCtx sleeps for d or until the context is done, reporting whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
