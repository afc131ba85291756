package scheduler

import (
	"context"
	"fmt"
	"time"

	"reminder_dispatcher/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type MaintenanceScheduler struct {
	cronEngine          *cron.Cron
	maintenance         app.MaintenanceService
	logger              *logrus.Entry
	cronSpecFlushRetry  string
	cronSpecStatusReset string
}

func NewMaintenanceScheduler(
	maintenance app.MaintenanceService,
	logger *logrus.Entry,
	cronSpecFlushRetry string, // e.g. "@every 5m"
	cronSpecStatusReset string, // e.g. "0 3 * * *" (03:00 daily)
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cronEngine:          cron.New(cron.WithLocation(time.Local)),
		maintenance:         maintenance,
		logger:              logger,
		cronSpecFlushRetry:  cronSpecFlushRetry,
		cronSpecStatusReset: cronSpecStatusReset,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	// Retries sheet writes a failed batch left behind.
	if _, err := s.cronEngine.AddFunc(s.cronSpecFlushRetry, s.runFlushRetry); err != nil {
		return fmt.Errorf("could not add flush retry cron job: %w", err)
	}

	// Statuses belong to one campaign day; clear them before the next one.
	if _, err := s.cronEngine.AddFunc(s.cronSpecStatusReset, s.runStatusReset); err != nil {
		return fmt.Errorf("could not add status reset cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Maintenance scheduler started")
	return nil
}

func (s *MaintenanceScheduler) runFlushRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.maintenance.FlushPendingWrites(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled flush of pending sheet writes failed")
	}
}

func (s *MaintenanceScheduler) runStatusReset() {
	s.logger.Info("Cron job triggered for delivery status reset")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()
	if err := s.maintenance.ResetDeliveryStatuses(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled delivery status reset failed")
	}
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped")
}
