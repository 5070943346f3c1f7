// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/intlpay/payportal/internal/metrics"
)

const sweepBatch = 500

// Expirer fails payments whose confirmation window has lapsed.
type Expirer interface {
	ExpireLapsed(ctx context.Context, limit int) (int, error)
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	expirer  Expirer
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler builds a scheduler that sweeps lapsed auth windows on schedule.
func NewScheduler(expirer Expirer, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		expirer:  expirer,
		schedule: schedule,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.SweepAuthWindows); err != nil {
		return err
	}
	s.logger.Info("scheduled auth window sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the runner; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepAuthWindows fails lapsed windows in batches until none remain.
func (s *Scheduler) SweepAuthWindows() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var total int
	for {
		n, err := s.expirer.ExpireLapsed(ctx, sweepBatch)
		total += n
		if err != nil {
			s.logger.Error("auth window sweep failed", "error", err, "expired", total)
			break
		}
		if n < sweepBatch {
			break
		}
	}
	metrics.RecordSweepExpired(total)
	if total > 0 {
		s.logger.Info("auth window sweep", "expired", total)
	}
}
