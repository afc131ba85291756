package app

import (
	"context"
	"fmt"

	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
)

// ErrAdminNotAuthorized is returned when a chat command comes from anyone but the configured admin.
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

// MaintenanceService is what the scheduler runs on its own, without an admin in the loop.
type MaintenanceService interface {
	FlushPendingWrites(ctx context.Context) error
	ResetDeliveryStatuses(ctx context.Context) error
}

// Stats is the operator snapshot returned by the admin commands and the HTTP API.
type Stats struct {
	TrackedRecipients int                `json:"tracked_recipients"`
	PendingUpdates    int                `json:"pending_updates"`
	PendingInserts    int                `json:"pending_inserts"`
	QueuedRows        int                `json:"queued_rows"`
	Receipts          int                `json:"receipts"`
	LastBatch         *dispatch.BatchRun `json:"last_batch,omitempty"`
}

type AdminService struct {
	batches         *BatchService
	reconciler      *Reconciler
	cache           *SheetCache
	queue           *Queue[dispatch.RowRecord]
	webhooks        *WebhookService
	activity        *ActivityLog
	batchRepo       dispatch.BatchRepository // optional
	adminTelegramID int64
	logger          *logrus.Entry
}

func NewAdminService(
	batches *BatchService,
	reconciler *Reconciler,
	cache *SheetCache,
	queue *Queue[dispatch.RowRecord],
	webhooks *WebhookService,
	activity *ActivityLog,
	batchRepo dispatch.BatchRepository,
	adminID int64,
	logger *logrus.Entry,
) *AdminService {
	return &AdminService{
		batches:         batches,
		reconciler:      reconciler,
		cache:           cache,
		queue:           queue,
		webhooks:        webhooks,
		activity:        activity,
		batchRepo:       batchRepo,
		adminTelegramID: adminID,
		logger:          logger,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if s.adminTelegramID == 0 || performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// Snapshot collects the current stats. It does not check authorization.
func (s *AdminService) Snapshot() Stats {
	updates, inserts := s.cache.Pending()
	st := Stats{
		TrackedRecipients: s.reconciler.Len(),
		PendingUpdates:    updates,
		PendingInserts:    inserts,
		QueuedRows:        s.queue.Len(),
	}
	if s.webhooks != nil {
		st.Receipts = len(s.webhooks.Receipts())
	}
	if last, ok := s.batches.LastRun(); ok {
		st.LastBatch = &last
	}
	return st
}

// Stats returns the snapshot for an admin.
func (s *AdminService) Stats(performingAdminID int64) (Stats, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return Stats{}, err
	}
	return s.Snapshot(), nil
}

// RecentLogs returns the newest n activity entries, oldest first.
func (s *AdminService) RecentLogs(performingAdminID int64, n int) ([]LogEntry, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.activity.Tail(n), nil
}

// RecentBatches lists stored batch runs, newest first. Without a repository only
// the last in-memory run is returned.
func (s *AdminService) RecentBatches(ctx context.Context, performingAdminID int64, limit int) ([]dispatch.BatchRun, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	if s.batchRepo == nil {
		if last, ok := s.batches.LastRun(); ok {
			return []dispatch.BatchRun{last}, nil
		}
		return nil, nil
	}
	runs, err := s.batchRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	return runs, nil
}

// Flush retries writing buffered sheet changes on behalf of an admin.
func (s *AdminService) Flush(ctx context.Context, performingAdminID int64) error {
	if err := s.authorize(performingAdminID); err != nil {
		return err
	}
	return s.FlushPendingWrites(ctx)
}

// Reset clears the delivery statuses and the activity log on behalf of an admin.
func (s *AdminService) Reset(ctx context.Context, performingAdminID int64) error {
	if err := s.authorize(performingAdminID); err != nil {
		return err
	}
	if err := s.ResetDeliveryStatuses(ctx); err != nil {
		return err
	}
	s.activity.Clear()
	return nil
}

// FlushPendingWrites writes whatever the sheet cache still holds.
func (s *AdminService) FlushPendingWrites(ctx context.Context) error {
	updates, inserts := s.cache.Pending()
	if updates+inserts == 0 {
		return nil
	}
	s.logger.WithFields(logrus.Fields{"updates": updates, "inserts": inserts}).Info("Flushing pending sheet writes")
	if err := s.cache.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush pending sheet writes: %w", err)
	}
	return nil
}

// ResetDeliveryStatuses forgets every tracked delivery status.
func (s *AdminService) ResetDeliveryStatuses(ctx context.Context) error {
	tracked := s.reconciler.Len()
	if err := s.reconciler.Reset(ctx); err != nil {
		return err
	}
	s.logger.WithField("tracked", tracked).Info("Delivery statuses reset")
	return nil
}
