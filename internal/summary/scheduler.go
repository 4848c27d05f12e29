package summary

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"apflow/internal/logging"
	"apflow/internal/services"
)

// Scheduler fires the daily digest on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires the collector onto the given cron spec
// (standard five-field syntax, e.g. "0 18 * * *").
func NewScheduler(spec string, collector *Collector, logger *slog.Logger) (*Scheduler, error) {
	logger = logging.NewComponentLogger(logger, "summary-cron")
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := collector.SendDaily(context.Background()); err != nil {
			logger.Error("daily summary failed", logging.Error(err))
		}
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "summary", "schedule",
			"invalid daily summary cron spec "+spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("daily summary scheduled")
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
