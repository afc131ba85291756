// internal/app/activity_log.go
package app

import (
	"sync"
	"time"
)

// DefaultActivityLogCapacity matches what the operator views page through.
const DefaultActivityLogCapacity = 500

// EntryType classifies an activity log entry for display.
type EntryType string

const (
	EntryError        EntryType = "error"
	EntrySuccess      EntryType = "success"
	EntryNotification EntryType = "notification"
)

// LogEntry is one observable event about a recipient. Not authoritative state.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Type      EntryType `json:"type"`
}

// ActivityLog keeps the most recent entries, evicting the oldest first.
type ActivityLog struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
	now      func() time.Time
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityLogCapacity
	}
	return &ActivityLog{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Add records an entry, stamping it with the current time when unset.
func (l *ActivityLog) Add(entry LogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
}

// Record is a shorthand for Add.
func (l *ActivityLog) Record(phone, message string, typ EntryType) {
	l.Add(LogEntry{Phone: phone, Message: message, Type: typ})
}

// Entries returns a copy of the log, oldest first.
func (l *ActivityLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns up to n of the newest entries, oldest first.
func (l *ActivityLog) Tail(n int) []LogEntry {
	all := l.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

func (l *ActivityLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}
