package treasury

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives periodic sweep checks on a cron schedule. Equity-jump
// triggered sweeps bypass it via Manager.ObserveEquity.
type Scheduler struct {
	logger  *zap.Logger
	manager *Manager
	cron    *cron.Cron
	spec    string
}

// NewScheduler prepares a cron runner for the manager. Schedule specs accept
// the standard five-field form plus @every descriptors.
func NewScheduler(logger *zap.Logger, manager *Manager, spec string) *Scheduler {
	return &Scheduler{
		logger:  logger.Named("treasury.scheduler"),
		manager: manager,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start registers the sweep job and begins ticking. The job inherits ctx so
// in-flight sweeps stop at shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.manager.PerformSweepIfNeeded(ctx); err != nil {
			s.logger.Warn("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("treasury: bad sweep schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("sweep scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweep scheduler stopped")
}
