package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testRetrier(maxAttempts int, initial time.Duration) (*Retrier, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	r := NewRetrier(maxAttempts, initial, quietLogger())
	r.Sleep = sleeper.Sleep
	return r, sleeper
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"rate limit", &dispatch.APIError{StatusCode: http.StatusTooManyRequests}, ClassRateLimited},
		{"unavailable", &dispatch.APIError{StatusCode: http.StatusServiceUnavailable}, ClassUnavailable},
		{"internal", &dispatch.APIError{StatusCode: http.StatusInternalServerError}, ClassUnavailable},
		{"meta internal code", &dispatch.APIError{StatusCode: http.StatusBadRequest, Code: 131000}, ClassUnavailable},
		{"unavailable message", &dispatch.APIError{StatusCode: http.StatusBadRequest, Message: "Service temporarily unavailable"}, ClassUnavailable},
		{"wrapped rate limit", fmt.Errorf("send: %w", &dispatch.APIError{StatusCode: 429}), ClassRateLimited},
		{"timeout", fmt.Errorf("post: %w", context.DeadlineExceeded), ClassUnavailable},
		{"empty", ErrEmptyResult, ClassEmptyResult},
		{"bad request", &dispatch.APIError{StatusCode: http.StatusBadRequest, Code: 131026}, ClassTerminal},
		{"plain error", errors.New("boom"), ClassTerminal},
		{"nil", nil, ClassTerminal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestExecuteTerminalErrorRunsOnce(t *testing.T) {
	r, sleeper := testRetrier(5, 10*time.Millisecond)
	calls := 0
	terminal := &dispatch.APIError{StatusCode: http.StatusBadRequest, Message: "invalid recipient"}

	_, err := Execute(context.Background(), r, func(context.Context) (dispatch.Ack, error) {
		calls++
		return dispatch.Ack{}, terminal
	})
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upErr.Transient() {
		t.Fatalf("expected terminal classification")
	}
	if !errors.Is(err, terminal) {
		t.Fatalf("expected wrapped terminal error")
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", sleeper.delays)
	}
}

func TestExecuteTransientThenSuccess(t *testing.T) {
	initial := 100 * time.Millisecond
	for k := 1; k < 4; k++ {
		r, sleeper := testRetrier(4, initial)
		calls := 0
		ack, err := Execute(context.Background(), r, func(context.Context) (dispatch.Ack, error) {
			calls++
			if calls <= k {
				return dispatch.Ack{}, &dispatch.APIError{StatusCode: http.StatusTooManyRequests}
			}
			return dispatch.Ack{MessageID: "wamid.1"}, nil
		})
		if err != nil {
			t.Fatalf("k=%d: unexpected error %v", k, err)
		}
		if ack.MessageID != "wamid.1" {
			t.Fatalf("k=%d: unexpected ack %+v", k, ack)
		}
		if calls != k+1 {
			t.Fatalf("k=%d: expected %d calls, got %d", k, k+1, calls)
		}
		if len(sleeper.delays) != k {
			t.Fatalf("k=%d: expected %d sleeps, got %d", k, k, len(sleeper.delays))
		}
		last := sleeper.delays[len(sleeper.delays)-1]
		if last <= initial {
			t.Fatalf("k=%d: expected final delay > %s, got %s", k, initial, last)
		}
	}
}

func TestExecuteBackoffFactors(t *testing.T) {
	r, sleeper := testRetrier(4, 100*time.Millisecond)
	errs := []error{
		&dispatch.APIError{StatusCode: http.StatusServiceUnavailable},
		ErrEmptyResult,
		&dispatch.APIError{StatusCode: http.StatusTooManyRequests},
	}
	calls := 0
	_, err := Execute(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls <= len(errs) {
			return "", errs[calls-1]
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 600 * time.Millisecond}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("sleep %d: expected %s, got %s", i, want[i], sleeper.delays[i])
		}
	}
}

func TestExecuteEmptyResultIsRetriedAndExhausts(t *testing.T) {
	r, sleeper := testRetrier(3, time.Millisecond)
	calls := 0
	_, err := Execute(context.Background(), r, func(context.Context) (dispatch.Ack, error) {
		calls++
		return dispatch.Ack{}, nil
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || !upErr.Transient() || upErr.Attempts != 3 {
		t.Fatalf("expected exhausted transient UpstreamError, got %#v", err)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("expected no sleep after the last attempt, got %d sleeps", len(sleeper.delays))
	}
}

func TestExecuteStopsWhenContextCancelled(t *testing.T) {
	r := NewRetrier(5, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Execute(ctx, r, func(context.Context) (dispatch.Ack, error) {
		calls++
		return dispatch.Ack{}, &dispatch.APIError{StatusCode: http.StatusServiceUnavailable}
	})
	if calls != 1 {
		t.Fatalf("expected 1 call before the cancelled wait, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoNeverTreatsSuccessAsEmpty(t *testing.T) {
	r, _ := testRetrier(3, time.Millisecond)
	calls := 0
	err := Do(context.Background(), r, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected one successful call, got calls=%d err=%v", calls, err)
	}
}
