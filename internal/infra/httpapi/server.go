// internal/infra/httpapi/server.go
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
)

// BatchRunner runs one dispatch batch.
type BatchRunner interface {
	Run(ctx context.Context, rows []dispatch.Row) (*app.BatchResult, error)
}

// WebhookSink receives decoded webhook events.
type WebhookSink interface {
	HandleStatuses(ctx context.Context, events []app.StatusEvent) int
	HandleMedia(ctx context.Context, events []app.MediaEvent)
	Receipts() []app.Receipt
}

// StatsSource exposes the operator snapshot.
type StatsSource interface {
	Snapshot() app.Stats
}

// ActivitySource exposes the activity log.
type ActivitySource interface {
	Tail(n int) []app.LogEntry
}

type Deps struct {
	Batches     BatchRunner
	Webhooks    WebhookSink
	Stats       StatsSource
	Activity    ActivitySource
	VerifyToken string
}

// Server is the thin HTTP surface: webhook intake, batch submission and read-only views.
type Server struct {
	deps   Deps
	logger *logrus.Entry
	srv    *http.Server

	background sync.WaitGroup
}

func NewServer(addr string, deps Deps, logger *logrus.Entry) *Server {
	s := &Server{deps: deps, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.verifyWebhook)
	mux.HandleFunc("POST /webhook", s.receiveWebhook)
	mux.HandleFunc("POST /batches", s.createBatch)
	mux.HandleFunc("GET /logs", s.listLogs)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /receipts", s.listReceipts)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight requests and
// background media relays.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached with media relays still running")
	}
	return err
}
