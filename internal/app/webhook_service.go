// internal/app/webhook_service.go
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reminder_dispatcher/internal/domain/delivery"
	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"

	"github.com/sirupsen/logrus"
)

// StatusEvent is one outbound message status decoded from the webhook.
type StatusEvent struct {
	RawPhone string
	Status   string
	Errors   []string
}

// MediaEvent is an inbound image or document a recipient sent back (usually a payment receipt).
type MediaEvent struct {
	From    string
	MediaID string
	Kind    dispatch.MediaKind
}

// MediaRelay forwards an inbound media object by id.
type MediaRelay interface {
	Relay(ctx context.Context, mediaID string) (dispatch.Ack, error)
}

// Receipt is the metadata kept for a relayed inbound media object.
type Receipt struct {
	Phone      string    `json:"phone"`
	MediaID    string    `json:"media_id"`
	Kind       string    `json:"kind"`
	ReceivedAt time.Time `json:"received_at"`
}

// WebhookService applies decoded webhook events to the reconciler and relays inbound media.
type WebhookService struct {
	reconciler *Reconciler
	relay      MediaRelay // optional
	retrier    *Retrier
	keyer      *phone.Keyer
	activity   *ActivityLog
	logger     *logrus.Entry

	mu         sync.Mutex
	receipts   []Receipt // newest last, at most receiptCap
	receiptCap int
	perPhone   map[string]int
}

func NewWebhookService(
	reconciler *Reconciler,
	relay MediaRelay,
	retrier *Retrier,
	keyer *phone.Keyer,
	activity *ActivityLog,
	logger *logrus.Entry,
) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		relay:      relay,
		retrier:    retrier,
		keyer:      keyer,
		activity:   activity,
		logger:     logger,
		receiptCap: DefaultActivityLogCapacity,
		perPhone:   make(map[string]int),
	}
}

// HandleStatuses feeds status events to the reconciler. Malformed events are
// logged and skipped so one bad entry does not drop the rest of the payload.
func (s *WebhookService) HandleStatuses(ctx context.Context, events []StatusEvent) int {
	applied := 0
	for _, ev := range events {
		stored, changed, err := s.reconciler.Ingest(ctx, ev.RawPhone, ev.Status)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"phone": ev.RawPhone, "status": ev.Status}).Warn("Skipping webhook status")
			continue
		}
		applied++
		key, _ := s.keyer.KeyForm(ev.RawPhone)

		entryLogger := s.logger.WithFields(logrus.Fields{"phone": key, "status": ev.Status, "stored": stored, "changed": changed})
		typ := EntrySuccess
		if ev.Status == string(delivery.StatusFailed) {
			typ = EntryError
			entryLogger.WithField("errors", ev.Errors).Error("Webhook reported failed delivery")
		} else {
			entryLogger.Info("Webhook status received")
		}
		s.activity.Record(key, "webhook => "+ev.Status, typ)
	}
	return applied
}

// HandleMedia relays inbound media. Failures are recorded in the activity log only.
func (s *WebhookService) HandleMedia(ctx context.Context, events []MediaEvent) {
	for _, ev := range events {
		key, err := s.keyer.KeyForm(ev.From)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping inbound media without sender")
			continue
		}
		logger := s.logger.WithFields(logrus.Fields{"phone": key, "media_id": ev.MediaID, "kind": ev.Kind})
		logger.Info("Inbound media received")

		if s.relay == nil {
			s.remember(key, ev)
			continue
		}
		_, err = Execute(ctx, s.retrier, func(ctx context.Context) (dispatch.Ack, error) {
			return s.relay.Relay(ctx, ev.MediaID)
		})
		if err != nil {
			logger.WithError(err).Error("Failed to relay inbound media")
			s.activity.Record(key, fmt.Sprintf("relay failed (media_id=%s)", ev.MediaID), EntryError)
			continue
		}
		s.remember(key, ev)
		s.activity.Record(key, fmt.Sprintf("relay ok (media_id=%s)", ev.MediaID), EntryNotification)
	}
}

func (s *WebhookService) remember(key string, ev MediaEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receipts) >= s.receiptCap {
		n := copy(s.receipts, s.receipts[len(s.receipts)-s.receiptCap+1:])
		s.receipts = s.receipts[:n]
	}
	s.receipts = append(s.receipts, Receipt{Phone: key, MediaID: ev.MediaID, Kind: string(ev.Kind), ReceivedAt: time.Now()})
	s.perPhone[key]++
}

// Receipts returns the most recent inbound media, oldest first.
func (s *WebhookService) Receipts() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out
}

// ReceiptCount is the number of inbound media received from one phone.
func (s *WebhookService) ReceiptCount(rawPhone string) int {
	key, err := s.keyer.KeyForm(rawPhone)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perPhone[key]
}
