// internal/app/sheet_cache.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"

	"github.com/sirupsen/logrus"
)

var (
	// ErrCacheNotLoaded is logged when the cache is used before Load; affected
	// records take the append path.
	ErrCacheNotLoaded = errors.New("sheet cache used before load")
	// ErrCacheInconsistency is logged when a pending update has no row index.
	ErrCacheInconsistency = errors.New("sheet cache row index out of sync")
)

// SheetCache turns the result sheet into a diffable key-value store: it reads the
// sheet once, buffers writes in memory, and flushes them as one append call plus
// one batched cell update.
type SheetCache struct {
	store   dispatch.TabularStore
	retrier *Retrier
	keyer   *phone.Keyer
	logger  *logrus.Entry

	// flushing serializes Flush and Load; mu guards the fields below and is
	// never held across a remote call.
	flushing sync.Mutex
	mu       sync.Mutex
	loaded   bool
	rowIndex map[string]int // key-form phone -> 1-based sheet row
	rowCount int            // rows in the sheet, header included
	updates  map[string]dispatch.RowRecord
	inserts  []dispatch.RowRecord
	insertAt map[string]int // key-form phone -> position in inserts
}

func NewSheetCache(store dispatch.TabularStore, retrier *Retrier, keyer *phone.Keyer, logger *logrus.Entry) *SheetCache {
	c := &SheetCache{
		store:   store,
		retrier: retrier,
		keyer:   keyer,
		logger:  logger,
	}
	c.resetLocked()
	return c
}

func (c *SheetCache) resetLocked() {
	c.rowIndex = make(map[string]int)
	c.rowCount = 0
	c.updates = make(map[string]dispatch.RowRecord)
	c.inserts = nil
	c.insertAt = make(map[string]int)
}

// Load reads the whole sheet and rebuilds the phone → row index from every row
// after the header. Pending changes are discarded.
func (c *SheetCache) Load(ctx context.Context) error {
	c.flushing.Lock()
	defer c.flushing.Unlock()

	rows, err := Execute(ctx, c.retrier, c.store.ReadAll)
	if err != nil && !errors.Is(err, ErrEmptyResult) {
		return fmt.Errorf("failed to read sheet: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.rowCount = len(rows)
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 {
			continue
		}
		key, err := c.keyer.KeyForm(rows[i][0])
		if err != nil {
			continue
		}
		c.rowIndex[key] = i + 1
	}
	c.loaded = true
	c.logger.WithFields(logrus.Fields{"rows": len(rows), "indexed": len(c.rowIndex)}).Info("Sheet cache loaded")
	return nil
}

// Loaded reports whether Load has completed at least once.
func (c *SheetCache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Pending returns the number of buffered updates and inserts.
func (c *SheetCache) Pending() (updates, inserts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates), len(c.inserts)
}

// RowIndex returns the 1-based row of a phone, if known.
func (c *SheetCache) RowIndex(rawPhone string) (int, bool) {
	key, err := c.keyer.KeyForm(rawPhone)
	if err != nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.rowIndex[key]
	return idx, ok
}

// Put buffers a record. No I/O happens here.
func (c *SheetCache) Put(record dispatch.RowRecord) {
	key, keyErr := c.keyer.KeyForm(record.Phone)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.logger.WithError(ErrCacheNotLoaded).WithField("phone", record.Phone).Warn("Buffering record as insert")
	}
	if keyErr == nil {
		if _, ok := c.rowIndex[key]; ok {
			c.updates[key] = record
			return
		}
	}
	c.queueInsertLocked(key, keyErr == nil, record)
}

func (c *SheetCache) queueInsertLocked(key string, keyed bool, record dispatch.RowRecord) {
	if keyed {
		if pos, ok := c.insertAt[key]; ok {
			c.inserts[pos] = record
			return
		}
		c.insertAt[key] = len(c.inserts)
	}
	c.inserts = append(c.inserts, record)
}

// Flush writes buffered changes: one append for new rows, then one batched update
// of the status column for known rows. On error the unsent changes stay buffered
// so Flush can be retried on its own. Remote calls and retry waits run without
// holding the cache lock; records Put meanwhile are kept for the next flush.
func (c *SheetCache) Flush(ctx context.Context) error {
	c.flushing.Lock()
	defer c.flushing.Unlock()

	inserts, ok := c.prepareFlush()
	if !ok {
		c.logger.Debug("Sheet cache flush: nothing to write")
		return nil
	}

	if len(inserts) > 0 {
		if err := c.appendRows(ctx, inserts); err != nil {
			return err
		}
	}
	return c.updateStatuses(ctx)
}

// prepareFlush moves orphaned updates to the append path and snapshots the
// inserts to send.
func (c *SheetCache) prepareFlush() ([]dispatch.RowRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.updates) == 0 && len(c.inserts) == 0 {
		return nil, false
	}
	if !c.loaded {
		c.logger.WithError(ErrCacheNotLoaded).Warn("Flushing sheet cache that was never loaded")
	}

	// Updates whose row index vanished fall back to the append path.
	for key, record := range c.updates {
		if _, ok := c.rowIndex[key]; !ok {
			c.logger.WithError(ErrCacheInconsistency).WithField("phone", key).Warn("Moving update to append path")
			delete(c.updates, key)
			c.queueInsertLocked(key, true, record)
		}
	}
	return append([]dispatch.RowRecord(nil), c.inserts...), true
}

func (c *SheetCache) appendRows(ctx context.Context, sent []dispatch.RowRecord) error {
	rows := make([][]string, len(sent))
	for i, r := range sent {
		rows[i] = r.Values()
	}

	var firstRow int
	err := Do(ctx, c.retrier, func(ctx context.Context) error {
		var err error
		firstRow, err = c.store.AppendRows(ctx, rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append %d rows: %w", len(rows), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if firstRow <= 0 {
		firstRow = c.rowCount + 1
	}

	// Sent records are a prefix of the inserts: Put only overwrites in place or
	// appends while a flush runs. A record overwritten since the snapshot becomes
	// an update of the row that was just written.
	for i, r := range sent {
		key, keyErr := c.keyer.KeyForm(r.Phone)
		if keyErr != nil {
			continue
		}
		c.rowIndex[key] = firstRow + i
		if current := c.inserts[i]; current != r {
			c.updates[key] = current
		}
	}
	if end := firstRow + len(rows) - 1; end > c.rowCount {
		c.rowCount = end
	}

	c.inserts = append([]dispatch.RowRecord(nil), c.inserts[len(sent):]...)
	c.insertAt = make(map[string]int, len(c.inserts))
	for i, r := range c.inserts {
		if key, err := c.keyer.KeyForm(r.Phone); err == nil {
			c.insertAt[key] = i
		}
	}
	c.logger.WithField("rows", len(rows)).Info("Appended new rows to sheet")
	return nil
}

func (c *SheetCache) updateStatuses(ctx context.Context) error {
	c.mu.Lock()
	sent := make(map[string]dispatch.RowRecord, len(c.updates))
	patches := make([]dispatch.CellPatch, 0, len(c.updates))
	for key, record := range c.updates {
		sent[key] = record
		patches = append(patches, dispatch.CellPatch{
			RowIndex:    c.rowIndex[key],
			ColumnIndex: dispatch.StatusColumn,
			Value:       statusOrDefault(record.Status),
		})
	}
	c.mu.Unlock()
	if len(patches) == 0 {
		return nil
	}
	sort.Slice(patches, func(i, j int) bool { return patches[i].RowIndex < patches[j].RowIndex })

	type sheetRef struct {
		id       int64
		resolved bool
	}
	// The first tab of a spreadsheet legitimately has id 0, so wrap it to keep it from
	// reading as an empty result.
	ref, err := Execute(ctx, c.retrier, func(ctx context.Context) (sheetRef, error) {
		id, err := c.store.SheetID(ctx)
		if err != nil {
			return sheetRef{}, err
		}
		return sheetRef{id: id, resolved: true}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve sheet id: %w", err)
	}

	err = Do(ctx, c.retrier, func(ctx context.Context) error {
		return c.store.UpdateCells(ctx, ref.id, patches)
	})
	if err != nil {
		return fmt.Errorf("failed to update %d status cells: %w", len(patches), err)
	}
	c.logger.WithField("cells", len(patches)).Info("Updated status cells in sheet")

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, record := range sent {
		if current, ok := c.updates[key]; ok && current == record {
			delete(c.updates, key)
		}
	}
	return nil
}

func statusOrDefault(label dispatch.Label) string {
	if label == "" {
		return string(dispatch.LabelMessagesSent)
	}
	return string(label)
}
