package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/infra/whatsapp"

	"github.com/sirupsen/logrus"
)

const (
	maxWebhookBody = 1 << 20
	maxBatchBody   = 16 << 20
	defaultLogTail = 100
)

type errorResponse struct {
	Error string `json:"error"`
}

type batchResponse struct {
	Message string               `json:"message"`
	Run     dispatch.BatchRun    `json:"run"`
	Records []dispatch.RowRecord `json:"records"`
	Error   string               `json:"error,omitempty"` // sheet write-back failure
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.deps.VerifyToken != "" && q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.deps.VerifyToken {
		s.logger.Info("Webhook verified")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	s.logger.WithField("mode", q.Get("hub.mode")).Warn("Webhook verification failed")
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook applies statuses before answering; media relays run after the
// response so the upstream does not time out and redeliver.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}
	events, err := whatsapp.ParseWebhook(body)
	if err != nil {
		s.logger.WithError(err).Warn("Rejecting webhook payload")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	applied := s.deps.Webhooks.HandleStatuses(r.Context(), events.Statuses)
	if len(events.Media) > 0 {
		ctx := context.WithoutCancel(r.Context())
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.deps.Webhooks.HandleMedia(ctx, events.Media)
		}()
	}
	s.logger.WithFields(logrus.Fields{"statuses": len(events.Statuses), "applied": applied, "media": len(events.Media)}).Debug("Webhook received")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}
	rows, err := decodeRows(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no rows to process"})
		return
	}

	// A client disconnect must not abandon rows that were already sent.
	result, err := s.deps.Batches.Run(context.WithoutCancel(r.Context()), rows)
	switch {
	case errors.Is(err, app.ErrBatchInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil && result == nil:
		s.logger.WithError(err).Error("Batch failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := batchResponse{
		Message: fmt.Sprintf("Processed %d rows: %d messages sent, %d invalid numbers.", result.Run.Total, result.Run.Sent, result.Run.Invalid),
		Run:     result.Run,
		Records: result.Records,
	}
	if err != nil {
		resp.Message += " Sheet write-back is pending."
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeRows accepts a JSON array of flat objects. Non-string cells (numbers,
// booleans) are kept in their JSON text form.
func decodeRows(body []byte) ([]dispatch.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("expected a JSON array of rows: %w", err)
	}
	rows := make([]dispatch.Row, 0, len(raw))
	for i, obj := range raw {
		row := make(dispatch.Row, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case nil:
			case string:
				row[k] = val
			case json.Number:
				row[k] = val.String()
			case bool:
				row[k] = strconv.FormatBool(val)
			default:
				return nil, fmt.Errorf("row %d: field %q is not a scalar", i, k)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogTail
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, s.deps.Activity.Tail(n))
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) listReceipts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Webhooks.Receipts())
}
