package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"
)

type sentCall struct {
	To   string
	Kind string
	Name string
}

// fakeSender records every call; templateErr decides per recipient/template whether it fails.
type fakeSender struct {
	mu          sync.Mutex
	calls       []sentCall
	templateErr func(to, name string) error
	mediaErr    error
	onTemplate  func(to, name string)
	seq         int
}

func (f *fakeSender) record(c sentCall) dispatch.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.seq++
	return dispatch.Ack{MessageID: fmt.Sprintf("wamid.%d", f.seq)}
}

func (f *fakeSender) SendTemplate(_ context.Context, to string, msg dispatch.TemplateMessage) (dispatch.Ack, error) {
	ack := f.record(sentCall{To: to, Kind: "template", Name: msg.Name})
	if f.onTemplate != nil {
		f.onTemplate(to, msg.Name)
	}
	if f.templateErr != nil {
		if err := f.templateErr(to, msg.Name); err != nil {
			return dispatch.Ack{}, err
		}
	}
	return ack, nil
}

func (f *fakeSender) SendImage(_ context.Context, to, link, _ string) (dispatch.Ack, error) {
	ack := f.record(sentCall{To: to, Kind: "image", Name: link})
	if f.mediaErr != nil {
		return dispatch.Ack{}, f.mediaErr
	}
	return ack, nil
}

func (f *fakeSender) SendDocument(_ context.Context, to, link, _ string) (dispatch.Ack, error) {
	ack := f.record(sentCall{To: to, Kind: "document", Name: link})
	if f.mediaErr != nil {
		return dispatch.Ack{}, f.mediaErr
	}
	return ack, nil
}

func (f *fakeSender) callsTo(to string) []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCall
	for _, c := range f.calls {
		if c.To == to {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testTemplates() RowProcessorConfig {
	return RowProcessorConfig{
		FirstTemplate: func(row dispatch.Row) dispatch.TemplateMessage {
			return dispatch.TemplateMessage{
				Name:     "payment_reminder",
				Language: "es_MX",
				Components: []dispatch.Component{{
					Type:       "body",
					Parameters: []dispatch.Parameter{{Type: "text", Text: row.GetOr(dispatch.FieldCustomerName, "N/A")}},
				}},
			}
		},
		SecondTemplate: func(dispatch.Row) dispatch.TemplateMessage {
			return dispatch.TemplateMessage{Name: "direct_debit_offer", Language: "es_MX"}
		},
		FollowUp: func(dispatch.Row) *dispatch.MediaMessage {
			return &dispatch.MediaMessage{Kind: dispatch.MediaImage, Link: "https://example.com/card.png"}
		},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// fakeStore is an in-memory TabularStore that counts remote calls.
type fakeStore struct {
	mu          sync.Mutex
	rows        [][]string
	sheetID     int64
	readCalls   int
	appendCalls [][][]string
	updateCalls [][]dispatch.CellPatch
	sheetCalls  int
	appendErr   error
	updateErr   error
}

func newFakeStore(rows ...[]string) *fakeStore {
	return &fakeStore{rows: rows, sheetID: 42}
}

func (s *fakeStore) ReadAll(context.Context) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (s *fakeStore) AppendRows(_ context.Context, rows [][]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls = append(s.appendCalls, rows)
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	first := len(s.rows) + 1
	s.rows = append(s.rows, rows...)
	return first, nil
}

func (s *fakeStore) SheetID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheetCalls++
	return s.sheetID, nil
}

func (s *fakeStore) UpdateCells(_ context.Context, sheetID int64, patches []dispatch.CellPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls = append(s.updateCalls, patches)
	if s.updateErr != nil {
		return s.updateErr
	}
	if sheetID != s.sheetID {
		return fmt.Errorf("unknown sheet %d", sheetID)
	}
	for _, p := range patches {
		row := s.rows[p.RowIndex-1]
		for len(row) <= p.ColumnIndex {
			row = append(row, "")
		}
		row[p.ColumnIndex] = p.Value
		s.rows[p.RowIndex-1] = row
	}
	return nil
}
