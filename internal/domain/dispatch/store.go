// internal/domain/dispatch/store.go
package dispatch

import (
	"context"
	"time"
)

// CellPatch overwrites a single cell. RowIndex is 1-based like the sheet UI,
// ColumnIndex is 0-based like the API.
type CellPatch struct {
	RowIndex    int
	ColumnIndex int
	Value       string
}

// TabularStore is the persistent sheet the batch results are written back to.
// Every method is a single remote call.
type TabularStore interface {
	// ReadAll returns every row of the configured range, header included.
	ReadAll(ctx context.Context) ([][]string, error)
	// AppendRows appends rows after the last non-empty row and returns the 1-based
	// index of the first written row, or 0 if the store cannot tell.
	AppendRows(ctx context.Context, rows [][]string) (int, error)
	// SheetID resolves the internal identifier of the configured tab.
	SheetID(ctx context.Context) (int64, error)
	UpdateCells(ctx context.Context, sheetID int64, patches []CellPatch) error
}

// BatchRun is the summary of one dispatch batch.
type BatchRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Invalid    int       `json:"invalid"`
	FlushError string    `json:"flush_error,omitempty"`
}

// BatchRepository keeps a history of batch runs.
type BatchRepository interface {
	Create(ctx context.Context, run *BatchRun) error
	ListRecent(ctx context.Context, limit int) ([]BatchRun, error)
}
