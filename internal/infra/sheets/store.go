// internal/infra/sheets/store.go
package sheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	// DefaultCallTimeout bounds each Sheets API call.
	DefaultCallTimeout = 15 * time.Second
	// lastColumn covers the seven record columns, status in G.
	lastColumn = "G"
)

// ErrTabNotFound is returned when the configured tab does not exist in the spreadsheet.
var ErrTabNotFound = errors.New("sheet tab not found")

var updatedRowPattern = regexp.MustCompile(`![A-Za-z]+(\d+)`)

// Store is a TabularStore over one tab of a Google spreadsheet.
type Store struct {
	service       *sheetsapi.Service
	spreadsheetID string
	tab           string
	callTimeout   time.Duration
	logger        *logrus.Entry

	mu      sync.Mutex
	sheetID *int64
}

// NewStore builds the Sheets client. With an empty credentials file Application
// Default Credentials are used. Extra options are appended after the defaults.
func NewStore(ctx context.Context, spreadsheetID, tab, credentialsFile string, logger *logrus.Entry, opts ...option.ClientOption) (*Store, error) {
	clientOpts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Store{
		service:       service,
		spreadsheetID: spreadsheetID,
		tab:           tab,
		callTimeout:   DefaultCallTimeout,
		logger:        logger,
	}, nil
}

func (s *Store) dataRange() string {
	return quoteTab(s.tab) + "!A:" + lastColumn
}

// quoteTab wraps tab names that A1 notation cannot take bare.
func quoteTab(tab string) string {
	if strings.ContainsAny(tab, " '!:") {
		return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	}
	return tab
}

func (s *Store) ReadAll(ctx context.Context) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.dataRange()).Context(ctx).Do()
	if err != nil {
		return nil, mapError("read", err)
	}
	rows := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = fmt.Sprint(cell)
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *Store) AppendRows(ctx context.Context, rows [][]string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.dataRange(), &sheetsapi.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, mapError("append", err)
	}
	if resp.Updates == nil {
		return 0, nil
	}
	first := firstUpdatedRow(resp.Updates.UpdatedRange)
	s.logger.WithFields(logrus.Fields{"rows": len(rows), "range": resp.Updates.UpdatedRange}).Debug("Rows appended")
	return first, nil
}

// firstUpdatedRow extracts the first row number from an A1 range like
// "reservas!A12:G14". It returns 0 when the range has no row.
func firstUpdatedRow(a1 string) int {
	m := updatedRowPattern.FindStringSubmatch(a1)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) SheetID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheetID != nil {
		return *s.sheetID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties(sheetId,title)").Context(ctx).Do()
	if err != nil {
		return 0, mapError("get spreadsheet", err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.tab {
			id := sh.Properties.SheetId
			s.sheetID = &id
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrTabNotFound, s.tab)
}

func (s *Store) UpdateCells(ctx context.Context, sheetID int64, patches []dispatch.CellPatch) error {
	if len(patches) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	requests := make([]*sheetsapi.Request, 0, len(patches))
	for _, p := range patches {
		value := p.Value
		requests = append(requests, &sheetsapi.Request{
			UpdateCells: &sheetsapi.UpdateCellsRequest{
				Start: &sheetsapi.GridCoordinate{
					SheetId:         sheetID,
					RowIndex:        int64(p.RowIndex - 1),
					ColumnIndex:     int64(p.ColumnIndex),
					ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
				},
				Rows: []*sheetsapi.RowData{{
					Values: []*sheetsapi.CellData{{UserEnteredValue: &sheetsapi.ExtendedValue{StringValue: &value}}},
				}},
				Fields: "userEnteredValue",
			},
		})
	}
	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).
		Do()
	if err != nil {
		return mapError("batch update", err)
	}
	return nil
}

// mapError turns googleapi errors into *dispatch.APIError so the retrier can
// classify them. Transport errors pass through wrapped.
func mapError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return fmt.Errorf("sheets %s: %w", op, &dispatch.APIError{StatusCode: gErr.Code, Message: gErr.Message})
	}
	return fmt.Errorf("sheets %s: %w", op, err)
}
