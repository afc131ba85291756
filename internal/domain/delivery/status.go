// internal/domain/delivery/status.go
package delivery

import (
	"fmt"
	"strings"
	"time"
)

// Status is the latest known delivery outcome for a recipient, as reported by the webhook.
type Status string

const (
	StatusNone      Status = "none"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// ParseStatus maps a webhook status string onto a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusNone, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return s, nil
	case "":
		return StatusNone, nil
	default:
		return StatusNone, fmt.Errorf("unknown delivery status %q", raw)
	}
}

// Confirmed reports whether the status belongs to the confirmed tier.
// sent, delivered and read share one rank; no finer ordering is applied between them.
func (s Status) Confirmed() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

func (s Status) String() string { return string(s) }

// Record is a persisted delivery status for one canonical phone key.
type Record struct {
	PhoneKey  string
	Status    Status
	UpdatedAt time.Time
}
