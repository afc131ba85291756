package app

import (
	"fmt"
	"testing"
	"time"
)

func TestActivityLogEvictsOldest(t *testing.T) {
	l := NewActivityLog(3)
	for i := 0; i < 5; i++ {
		l.Record(fmt.Sprintf("52166400000%02d", i), "sent", EntrySuccess)
	}
	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Phone != "5216640000002" || entries[2].Phone != "5216640000004" {
		t.Fatalf("expected the three newest entries, got %+v", entries)
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be set")
		}
	}
}

func TestActivityLogTailAndClear(t *testing.T) {
	l := NewActivityLog(10)
	fixed := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	l.Add(LogEntry{Timestamp: fixed, Phone: "a", Message: "one", Type: EntryError})
	l.Record("b", "two", EntryNotification)
	l.Record("c", "three", EntrySuccess)

	tail := l.Tail(2)
	if len(tail) != 2 || tail[0].Phone != "b" || tail[1].Phone != "c" {
		t.Fatalf("unexpected tail %+v", tail)
	}
	if got := l.Entries()[0].Timestamp; !got.Equal(fixed) {
		t.Fatalf("expected explicit timestamp to be kept, got %s", got)
	}

	l.Clear()
	if len(l.Entries()) != 0 {
		t.Fatalf("expected empty log after Clear")
	}
}
