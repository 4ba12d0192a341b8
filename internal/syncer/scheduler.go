package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs sync cycles on cron schedules. Overlapping fires are
// absorbed by the orchestrator's run lock: a cycle that is still going
// when the next fire arrives makes the new fire a no-op.
type Scheduler struct {
	cron   *cron.Cron
	orch   *Orchestrator
	logger *slog.Logger
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(orch *Orchestrator, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		orch:   orch,
		logger: logger,
	}
}

// AddFullCycle schedules a full sync cycle (all adapters) on the given
// cron spec, e.g. "*/15 * * * *".
func (s *Scheduler) AddFullCycle(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.fire("all", func(ctx context.Context) (*RunStats, error) {
			return s.orch.Run(ctx)
		})
	})
	return err
}

// AddAdapter schedules a single adapter's cycle on its own cron spec.
func (s *Scheduler) AddAdapter(name, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.fire(name, func(ctx context.Context) (*RunStats, error) {
			return s.orch.RunAdapter(ctx, name)
		})
	})
	return err
}

func (s *Scheduler) fire(scope string, run func(context.Context) (*RunStats, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := run(ctx); err != nil {
		if errors.Is(err, ErrSyncRunning) {
			s.logger.Info("scheduled sync skipped, previous cycle still running", "scope", scope)
			return
		}
		s.logger.Error("scheduled sync failed", "scope", scope, "error", err)
	}
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sync scheduler stopped")
}
