package reconciliation

import (
	"context"
	"time"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/robfig/cron/v3"
)

const runTimeout = 10 * time.Minute

// Job is extra periodic maintenance run alongside reconciliation, such as
// purging expired idempotency records.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs reconciliation on a cron schedule.
type Scheduler struct {
	service  *Service
	schedule string
	jobs     []Job
	cron     *cron.Cron
	logger   *logger.Logger
}

// NewScheduler creates a scheduler for the given cron expression.
func NewScheduler(service *Service, schedule string, logger *logger.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		service:  service,
		schedule: schedule,
		jobs:     jobs,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron runner. It fails on an
// invalid schedule.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.execute(context.Background(), RunTypeScheduled)
	}); err != nil {
		return err
	}

	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()
			if err := job.Run(ctx); err != nil {
				s.logger.Error("Maintenance job failed", "job", job.Name, "error", err)
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Reconciliation scheduler started", "schedule", s.schedule, "jobs", len(s.jobs))
	return nil
}

// Shutdown stops the scheduler, giving running jobs at most timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("Reconciliation scheduler stopped")
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// RunNow triggers a manual run.
func (s *Scheduler) RunNow(ctx context.Context) (*entities.ReconciliationReport, error) {
	return s.service.RunReconciliation(ctx, RunTypeManual)
}

func (s *Scheduler) execute(ctx context.Context, runType string) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	report, err := s.service.RunReconciliation(ctx, runType)
	if err != nil {
		s.logger.Error("Scheduled reconciliation failed", "run_type", runType, "error", err)
		return
	}
	if !report.Passed() {
		s.logger.Warn("Scheduled reconciliation found discrepancies",
			"report_id", report.ID,
			"discrepancies", report.Discrepancies)
	}
}
