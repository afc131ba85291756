// internal/app/batch_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"
	domainTelegram "reminder_dispatcher/internal/domain/telegram"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBatchInProgress is returned when a batch is started while another is running.
var ErrBatchInProgress = errors.New("a batch is already in progress")

// BatchResult is what the caller of a batch gets back. Records keep input order.
type BatchResult struct {
	Run     dispatch.BatchRun
	Records []dispatch.RowRecord
}

// BatchService runs one dispatch batch end to end: queue every row, wait for all
// of them, apply webhook statuses, then write the results back to the sheet.
type BatchService struct {
	queue      *Queue[dispatch.RowRecord]
	processor  *RowProcessor
	reconciler *Reconciler
	cache      *SheetCache
	batchRepo  dispatch.BatchRepository // optional
	alerts     domainTelegram.Client    // optional
	adminID    int64
	logger     *logrus.Entry
	now        func() time.Time

	running sync.Mutex
	mu      sync.Mutex
	last    *dispatch.BatchRun
}

func NewBatchService(
	queue *Queue[dispatch.RowRecord],
	processor *RowProcessor,
	reconciler *Reconciler,
	cache *SheetCache,
	batchRepo dispatch.BatchRepository,
	alerts domainTelegram.Client,
	adminID int64,
	logger *logrus.Entry,
) *BatchService {
	return &BatchService{
		queue:      queue,
		processor:  processor,
		reconciler: reconciler,
		cache:      cache,
		batchRepo:  batchRepo,
		alerts:     alerts,
		adminID:    adminID,
		logger:     logger,
		now:        time.Now,
	}
}

// Run dispatches a batch. A flush failure is returned together with the full
// result; the unsent sheet changes stay buffered for a later Flush.
func (s *BatchService) Run(ctx context.Context, rows []dispatch.Row) (*BatchResult, error) {
	if !s.running.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer s.running.Unlock()

	run := dispatch.BatchRun{ID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.WithField("batch_id", run.ID)
	logger.WithField("rows", len(rows)).Info("Starting dispatch batch")

	futures := make([]*Future[dispatch.RowRecord], len(rows))
	for i, row := range rows {
		row := row
		futures[i] = s.queue.Submit(func(ctx context.Context) (dispatch.RowRecord, error) {
			return s.processor.Process(ctx, row), nil
		})
	}

	// Barrier: nothing is reconciled or written until every row has finished.
	records := make([]dispatch.RowRecord, len(rows))
	for i, f := range futures {
		rec, err := f.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("batch %s: row %d did not complete: %w", run.ID, i, err)
		}
		records[i] = rec
	}

	s.reconciler.Finalize(records)
	run.Total = len(records)
	for _, r := range records {
		if r.Status == dispatch.LabelMessagesSent {
			run.Sent++
		}
	}
	run.Invalid = run.Total - run.Sent

	flushErr := s.writeBack(ctx, records)
	if flushErr != nil {
		run.FlushError = flushErr.Error()
		logger.WithError(flushErr).Error("Failed to write batch results to sheet")
	}
	run.FinishedAt = s.now()

	s.remember(ctx, logger, &run)
	logger.WithFields(logrus.Fields{"total": run.Total, "sent": run.Sent, "invalid": run.Invalid}).Info("Dispatch batch finished")

	result := &BatchResult{Run: run, Records: records}
	if flushErr != nil {
		return result, fmt.Errorf("batch %s: %w", run.ID, flushErr)
	}
	return result, nil
}

// writeBack loads the sheet index unless earlier changes are still waiting to be
// written, buffers every record and flushes.
func (s *BatchService) writeBack(ctx context.Context, records []dispatch.RowRecord) error {
	updates, inserts := s.cache.Pending()
	if updates+inserts == 0 {
		if err := s.cache.Load(ctx); err != nil {
			return err
		}
	} else {
		s.logger.WithFields(logrus.Fields{"updates": updates, "inserts": inserts}).Warn("Sheet cache has unflushed changes, keeping current index")
	}
	for _, r := range records {
		s.cache.Put(r)
	}
	return s.cache.Flush(ctx)
}

func (s *BatchService) remember(ctx context.Context, logger *logrus.Entry, run *dispatch.BatchRun) {
	s.mu.Lock()
	stored := *run
	s.last = &stored
	s.mu.Unlock()

	if s.batchRepo != nil {
		if err := s.batchRepo.Create(ctx, run); err != nil {
			logger.WithError(err).Error("Failed to record batch run")
		}
	}
	if s.alerts != nil && s.adminID != 0 {
		var actions []domainTelegram.Action
		if run.FlushError != "" {
			actions = append(actions, domainTelegram.Action{Label: "Retry sheet write", Data: domainTelegram.ActionFlushRetry})
		}
		if err := s.alerts.SendMessage(s.adminID, FormatBatchSummary(run), actions...); err != nil {
			logger.WithError(err).Warn("Failed to send batch summary to admin")
		}
	}
}

// LastRun returns the summary of the most recent batch, if any.
func (s *BatchService) LastRun() (dispatch.BatchRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return dispatch.BatchRun{}, false
	}
	return *s.last, true
}

// FormatBatchSummary renders a batch run for operators.
func FormatBatchSummary(run *dispatch.BatchRun) string {
	msg := fmt.Sprintf("Batch %s finished in %s\nTotal: %d\nMessages sent: %d\nInvalid numbers: %d",
		run.ID,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
		run.Total,
		run.Sent,
		run.Invalid,
	)
	if run.FlushError != "" {
		msg += "\nSheet write-back failed: " + run.FlushError
	}
	return msg
}
