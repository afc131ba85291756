// internal/app/reconciler.go
package app

import (
	"context"
	"fmt"
	"sync"

	"reminder_dispatcher/internal/domain/delivery"
	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"

	"github.com/sirupsen/logrus"
)

// Reconciler holds the latest delivery status per canonical phone key, fed by
// webhook events that arrive independently of any batch.
//
// A confirmed status (sent, delivered, read) is never replaced by a later failed
// report for the same key. A confirmation may still replace a failure.
type Reconciler struct {
	keyer  *phone.Keyer
	repo   delivery.Repository // optional
	logger *logrus.Entry

	mu       sync.Mutex
	statuses map[string]delivery.Status

	// persisting serializes repository writes; it is taken without mu held.
	persisting sync.Mutex
}

func NewReconciler(keyer *phone.Keyer, repo delivery.Repository, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		keyer:    keyer,
		repo:     repo,
		logger:   logger,
		statuses: make(map[string]delivery.Status),
	}
}

// Restore loads previously persisted statuses. Entries are merged with the same
// rules as live events.
func (r *Reconciler) Restore(ctx context.Context) (int, error) {
	if r.repo == nil {
		return 0, nil
	}
	records, err := r.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load delivery statuses: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if next, changed := merge(r.statuses[rec.PhoneKey], rec.Status); changed {
			r.statuses[rec.PhoneKey] = next
		}
	}
	return len(records), nil
}

// merge decides the stored status after an incoming event.
func merge(current, incoming delivery.Status) (delivery.Status, bool) {
	switch {
	case incoming == delivery.StatusNone || incoming == "":
		return current, false
	case current.Confirmed() && incoming == delivery.StatusFailed:
		return current, false
	case current == incoming:
		return current, false
	default:
		return incoming, true
	}
}

// Ingest applies one webhook status event. It returns the stored status after
// the merge and whether it changed.
func (r *Reconciler) Ingest(ctx context.Context, rawPhone, rawStatus string) (delivery.Status, bool, error) {
	key, err := r.keyer.KeyForm(rawPhone)
	if err != nil {
		return delivery.StatusNone, false, err
	}
	incoming, err := delivery.ParseStatus(rawStatus)
	if err != nil {
		return delivery.StatusNone, false, err
	}

	r.mu.Lock()
	current := r.statuses[key]
	next, changed := merge(current, incoming)
	if !changed {
		stored := r.statusOrNone(key)
		r.mu.Unlock()
		if current.Confirmed() && incoming == delivery.StatusFailed {
			r.logger.WithFields(logrus.Fields{"phone": key, "stored": current}).Info("Ignoring failed report for a confirmed recipient")
		}
		return stored, false, nil
	}
	r.statuses[key] = next
	r.mu.Unlock()

	r.persist(ctx, key)
	return next, true, nil
}

// persist writes the status currently held for key. Writes for one key may
// finish out of order, so each one re-reads the in-memory value instead of
// trusting the status it was called for.
func (r *Reconciler) persist(ctx context.Context, key string) {
	if r.repo == nil {
		return
	}
	r.persisting.Lock()
	defer r.persisting.Unlock()

	r.mu.Lock()
	status, ok := r.statuses[key]
	r.mu.Unlock()
	if !ok {
		// Reset ran in between.
		return
	}
	if err := r.repo.Upsert(ctx, key, status); err != nil {
		// The in-memory state stays authoritative for the running process.
		r.logger.WithError(err).WithField("phone", key).Error("Failed to persist delivery status")
	}
}

func (r *Reconciler) statusOrNone(key string) delivery.Status {
	if s, ok := r.statuses[key]; ok {
		return s
	}
	return delivery.StatusNone
}

// Query returns the stored status for a key-form phone, and false when no event
// was ever recorded for it.
func (r *Reconciler) Query(keyFormPhone string) (delivery.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[keyFormPhone]
	return s, ok
}

// Len is the number of tracked recipients.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

// Reset forgets every tracked status, in memory and in the repository.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.statuses = make(map[string]delivery.Status)
	r.mu.Unlock()
	if r.repo != nil {
		if err := r.repo.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear persisted delivery statuses: %w", err)
		}
	}
	return nil
}

// Finalize overwrites each record's label with what the webhook reported for its
// phone: failed forces "invalid number", any confirmed status forces "messages
// sent", and no report leaves the label as the row workflow set it.
func (r *Reconciler) Finalize(records []dispatch.RowRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		if records[i].Phone == "" {
			continue
		}
		status, ok := r.statuses[records[i].Phone]
		if !ok {
			continue
		}
		switch {
		case status == delivery.StatusFailed:
			records[i].Status = dispatch.LabelInvalidNumber
		case status.Confirmed():
			records[i].Status = dispatch.LabelMessagesSent
		}
	}
}
