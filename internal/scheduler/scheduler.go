package scheduler

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config domain.SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg domain.SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. Jobs with an
// invalid schedule are logged and skipped.
func (s *Scheduler) Start() {
	s.schedule("days-overdue refresh", s.config.OverdueSchedule, s.jobs.RefreshDaysOverdue)
	s.schedule("installment sweep", s.config.InstallmentSchedule, s.jobs.SweepInstallments)
	s.cron.Start()
}

func (s *Scheduler) schedule(name, expr string, job func()) {
	if expr == "" {
		s.logger.Info("job disabled", "job", name)
		return
	}
	if _, err := s.cron.AddFunc(expr, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", expr, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", expr)
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler. The returned context is done
// once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
