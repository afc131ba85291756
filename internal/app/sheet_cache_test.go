package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"
)

var sheetHeader = []string{"TELEFONO", "NOMBRE", "CUENTA", "SALDO", "RPT", "CLAVE", "ESTADO"}

func newTestSheetCache(store *fakeStore) *SheetCache {
	retrier, _ := testRetrier(2, time.Millisecond)
	return NewSheetCache(store, retrier, phone.Default(), quietLogger())
}

func record(phoneKey string, label dispatch.Label) dispatch.RowRecord {
	return dispatch.RowRecord{Phone: phoneKey, CustomerName: "Cliente " + phoneKey, Status: label}
}

func TestSheetCachePutOnEmptyIndexAppendsOnce(t *testing.T) {
	store := newFakeStore(sheetHeader)
	cache := newTestSheetCache(store)
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	rec := record("5216641234567", dispatch.LabelMessagesSent)
	cache.Put(rec)
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(store.appendCalls) != 1 {
		t.Fatalf("expected exactly one append call, got %d", len(store.appendCalls))
	}
	if got := store.appendCalls[0]; len(got) != 1 || got[0][0] != rec.Phone || got[0][6] != string(rec.Status) {
		t.Fatalf("unexpected appended rows %v", got)
	}
	if len(store.updateCalls) != 0 || store.sheetCalls != 0 {
		t.Fatalf("expected no update calls, got %d (sheet lookups %d)", len(store.updateCalls), store.sheetCalls)
	}
}

func TestSheetCachePutForIndexedKeyUpdatesStatusColumn(t *testing.T) {
	store := newFakeStore(
		sheetHeader,
		[]string{"5216640000001", "Ana", "A1", "10", "", "", "messages sent"},
		[]string{"6640000002", "Beto", "A2", "20", "", "", "messages sent"},
	)
	cache := newTestSheetCache(store)
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if idx, ok := cache.RowIndex("+5216640000002"); !ok || idx != 3 {
		t.Fatalf("expected row 3 for a bare-number cell, got %d %v", idx, ok)
	}

	cache.Put(record("5216640000002", dispatch.LabelInvalidNumber))
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(store.appendCalls) != 0 {
		t.Fatalf("expected no append calls, got %d", len(store.appendCalls))
	}
	if len(store.updateCalls) != 1 {
		t.Fatalf("expected one update call, got %d", len(store.updateCalls))
	}
	patches := store.updateCalls[0]
	want := dispatch.CellPatch{RowIndex: 3, ColumnIndex: dispatch.StatusColumn, Value: string(dispatch.LabelInvalidNumber)}
	if len(patches) != 1 || patches[0] != want {
		t.Fatalf("expected %+v, got %+v", want, patches)
	}
	if store.rows[2][1] != "Beto" {
		t.Fatalf("expected only the status column to change, row is %v", store.rows[2])
	}
}

func TestSheetCacheLastWriteWinsBeforeFlush(t *testing.T) {
	store := newFakeStore(sheetHeader, []string{"5216640000001", "Ana", "", "", "", "", ""})
	cache := newTestSheetCache(store)
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	cache.Put(record("5216640000001", dispatch.LabelMessagesSent))
	cache.Put(record("5216640000001", dispatch.LabelInvalidNumber))
	cache.Put(record("5216649999999", dispatch.LabelMessagesSent))
	cache.Put(record("5216649999999", dispatch.LabelInvalidNumber))

	if updates, inserts := cache.Pending(); updates != 1 || inserts != 1 {
		t.Fatalf("expected 1 update and 1 insert pending, got %d/%d", updates, inserts)
	}
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := store.appendCalls[0][0][6]; got != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("expected last insert to win, got %q", got)
	}
	if got := store.updateCalls[0][0].Value; got != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("expected last update to win, got %q", got)
	}
	if updates, inserts := cache.Pending(); updates != 0 || inserts != 0 {
		t.Fatalf("expected pending state cleared, got %d/%d", updates, inserts)
	}
}

func TestSheetCacheAppendedRowsAreIndexed(t *testing.T) {
	store := newFakeStore(sheetHeader)
	cache := newTestSheetCache(store)
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	cache.Put(record("5216641111111", dispatch.LabelMessagesSent))
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	cache.Put(record("5216641111111", dispatch.LabelInvalidNumber))
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	if len(store.appendCalls) != 1 {
		t.Fatalf("expected the second put to update, not append again (appends=%d)", len(store.appendCalls))
	}
	if len(store.updateCalls) != 1 || store.updateCalls[0][0].RowIndex != 2 {
		t.Fatalf("expected an update of row 2, got %+v", store.updateCalls)
	}
	if len(store.rows) != 2 || store.rows[1][6] != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("unexpected sheet contents %v", store.rows)
	}
}

func TestSheetCacheFlushEmptyIsNoop(t *testing.T) {
	store := newFakeStore(sheetHeader)
	cache := newTestSheetCache(store)
	if err := cache.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(store.appendCalls)+len(store.updateCalls)+store.sheetCalls+store.readCalls != 0 {
		t.Fatalf("expected no remote calls")
	}
}

func TestSheetCacheFailedFlushKeepsPendingState(t *testing.T) {
	store := newFakeStore(sheetHeader, []string{"5216640000001", "Ana", "", "", "", "", ""})
	cache := newTestSheetCache(store)
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	store.updateErr = errors.New("quota exceeded")

	cache.Put(record("5216640000001", dispatch.LabelInvalidNumber))
	cache.Put(record("5216642222222", dispatch.LabelMessagesSent))
	if err := cache.Flush(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	updates, inserts := cache.Pending()
	if updates != 1 || inserts != 0 {
		t.Fatalf("expected the update to stay pending and the append to be done, got %d/%d", updates, inserts)
	}

	store.updateErr = nil
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if len(store.appendCalls) != 1 {
		t.Fatalf("expected no duplicate append on retry, got %d", len(store.appendCalls))
	}
	if store.rows[1][6] != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("expected status written on retry, row is %v", store.rows[1])
	}
}

func TestSheetCacheUnloadedPutFallsBackToAppend(t *testing.T) {
	store := newFakeStore(sheetHeader, []string{"5216640000001", "Ana", "", "", "", "", ""})
	cache := newTestSheetCache(store)

	cache.Put(record("5216640000001", dispatch.LabelMessagesSent))
	if updates, inserts := cache.Pending(); updates != 0 || inserts != 1 {
		t.Fatalf("expected insert before load, got %d/%d", updates, inserts)
	}
	if cache.Loaded() {
		t.Fatalf("expected cache to report not loaded")
	}
}

func TestSheetCacheLoadDiscardsPending(t *testing.T) {
	store := newFakeStore(sheetHeader)
	cache := newTestSheetCache(store)
	cache.Put(record("5216640000001", dispatch.LabelMessagesSent))
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if updates, inserts := cache.Pending(); updates != 0 || inserts != 0 {
		t.Fatalf("expected load to discard pending, got %d/%d", updates, inserts)
	}
	if store.readCalls != 1 {
		t.Fatalf("expected one read, got %d", store.readCalls)
	}
}

// blockingRetrier parks every retry wait until release is closed.
func blockingRetrier(attempts int) (r *Retrier, sleeping chan struct{}, release chan struct{}) {
	sleeping = make(chan struct{}, 16)
	release = make(chan struct{})
	r = NewRetrier(attempts, 100*time.Millisecond, quietLogger())
	r.Sleep = func(ctx context.Context, _ time.Duration) error {
		sleeping <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r, sleeping, release
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSheetCachePutDoesNotWaitForFlushBackoff(t *testing.T) {
	store := newFakeStore(sheetHeader, []string{"5216640000001", "Ana", "A1", "10", "", "", "messages sent"})
	retrier, sleeping, release := blockingRetrier(3)
	cache := NewSheetCache(store, retrier, phone.Default(), quietLogger())
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	cache.Put(record("5216640000001", dispatch.LabelInvalidNumber))
	store.updateErr = &dispatch.APIError{StatusCode: 503, Message: "backend error"}

	done := make(chan error, 1)
	go func() { done <- cache.Flush(ctx) }()
	waitSignal(t, sleeping, "the first retry wait")

	returned := make(chan struct{})
	go func() {
		cache.Put(record("5216649999999", dispatch.LabelMessagesSent))
		cache.Pending()
		cache.RowIndex("5216640000001")
		close(returned)
	}()
	waitSignal(t, returned, "Put and Pending during a flush backoff")

	close(release)
	if err := <-done; err == nil {
		t.Fatalf("expected the flush to fail after exhausting retries")
	}
	if updates, inserts := cache.Pending(); updates != 1 || inserts != 1 {
		t.Fatalf("expected the failed update and the new insert buffered, got %d updates, %d inserts", updates, inserts)
	}

	store.mu.Lock()
	store.updateErr = nil
	store.mu.Unlock()
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if updates, inserts := cache.Pending(); updates != 0 || inserts != 0 {
		t.Fatalf("expected nothing pending, got %d updates, %d inserts", updates, inserts)
	}
	if got := store.rows[1][dispatch.StatusColumn]; got != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("expected the status cell updated, got %q", got)
	}
}

func TestSheetCacheRecordOverwrittenDuringAppendBecomesUpdate(t *testing.T) {
	store := newFakeStore(sheetHeader)
	retrier, sleeping, release := blockingRetrier(3)
	cache := NewSheetCache(store, retrier, phone.Default(), quietLogger())
	ctx := context.Background()
	if err := cache.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	cache.Put(record("5216641234567", dispatch.LabelMessagesSent))
	store.appendErr = &dispatch.APIError{StatusCode: 503, Message: "backend error"}

	done := make(chan error, 1)
	go func() { done <- cache.Flush(ctx) }()
	waitSignal(t, sleeping, "the append retry wait")

	cache.Put(record("5216641234567", dispatch.LabelInvalidNumber))
	store.mu.Lock()
	store.appendErr = nil
	store.mu.Unlock()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(store.rows) != 2 {
		t.Fatalf("expected one appended row, got %v", store.rows)
	}
	if got := store.rows[1][dispatch.StatusColumn]; got != string(dispatch.LabelInvalidNumber) {
		t.Fatalf("expected the newer label written over the appended row, got %q", got)
	}
	if updates, inserts := cache.Pending(); updates != 0 || inserts != 0 {
		t.Fatalf("expected nothing pending, got %d updates, %d inserts", updates, inserts)
	}
}
