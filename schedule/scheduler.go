package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/store"
)

const defaultSweepInterval = 60 * time.Second

// Scheduler supervises the worker pool and the background sweeper. Stopping
// the context passed to Run stops everything.
type Scheduler struct {
	manager       *Manager
	sweepInterval time.Duration

	wg  sync.WaitGroup
	log *logrus.Entry
}

func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{
		manager:       manager,
		sweepInterval: defaultSweepInterval,
		log:           logrus.WithField("component", "scheduler"),
	}
}

// SpawnWorker starts one worker for the kind. Call before Run; workers
// observe the same context Run is later given.
func (s *Scheduler) SpawnWorker(ctx context.Context, kind store.Kind) {
	w := NewWorker(kind, s.manager)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.Run(ctx)
	}()
}

// Run drives the sweeper until the context is canceled, then waits for all
// workers to finish their current task and exit.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, waiting for workers")
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep: overdue Processing tasks become TimedOut, and
// Retrying tasks go back to Pending for re-claim.
func (s *Scheduler) tick(ctx context.Context) {
	if n, err := s.manager.SweepTimeouts(ctx); err != nil {
		s.log.WithError(err).Error("timeout sweep failed")
	} else if n > 0 {
		s.log.WithField("count", n).Warn("swept timed out tasks")
	}

	if n, err := s.manager.RequeueRetrying(ctx); err != nil {
		s.log.WithError(err).Error("retry requeue failed")
	} else if n > 0 {
		s.log.WithField("count", n).Info("requeued retrying tasks")
	}
}
