// internal/app/retry.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/sirupsen/logrus"
)

// ErrEmptyResult marks a call that succeeded but returned nothing usable.
var ErrEmptyResult = errors.New("upstream returned an empty result")

// Meta's generic "Something went wrong" code, retried like a 500.
const metaInternalErrorCode = 131000

// ErrorClass is the retry classification of an upstream error.
type ErrorClass int

const (
	ClassTerminal ErrorClass = iota
	ClassRateLimited
	ClassUnavailable
	ClassEmptyResult
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassUnavailable:
		return "unavailable"
	case ClassEmptyResult:
		return "empty_result"
	default:
		return "terminal"
	}
}

// Transient reports whether errors of this class are worth another attempt.
func (c ErrorClass) Transient() bool { return c != ClassTerminal }

// backoffFactor is how much the wait grows after an error of this class.
func (c ErrorClass) backoffFactor() float64 {
	switch c {
	case ClassRateLimited, ClassUnavailable:
		return 2
	case ClassEmptyResult:
		return 1.5
	default:
		return 1
	}
}

// Classify maps an error onto its retry class. Only the listed conditions are
// transient; everything else is terminal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, ErrEmptyResult) {
		return ClassEmptyResult
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassUnavailable
	}

	var apiErr *dispatch.APIError
	if !errors.As(err, &apiErr) {
		return ClassTerminal
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimited
	case apiErr.StatusCode == http.StatusServiceUnavailable,
		apiErr.StatusCode == http.StatusInternalServerError,
		apiErr.Code == metaInternalErrorCode,
		strings.Contains(strings.ToLower(apiErr.Message), "temporarily unavailable"):
		return ClassUnavailable
	default:
		return ClassTerminal
	}
}

// UpstreamError is what Execute returns when it gives up: either a terminal error
// on any attempt, or the last transient error once attempts are exhausted.
type UpstreamError struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Class.Transient() {
		return fmt.Sprintf("transient upstream error (%s) after %d attempts: %v", e.Class, e.Attempts, e.Err)
	}
	return fmt.Sprintf("terminal upstream error on attempt %d: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transient reports whether the attempts were exhausted on a transient error.
func (e *UpstreamError) Transient() bool { return e.Class.Transient() }

// Retrier holds the backoff parameters shared by every outbound call.
type Retrier struct {
	MaxAttempts  int
	InitialDelay time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it to avoid real waits.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *logrus.Entry
}

// NewRetrier returns a Retrier with context-aware sleeping.
func NewRetrier(maxAttempts int, initialDelay time.Duration, logger *logrus.Entry) *Retrier {
	return &Retrier{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		Sleep:        sleepContext,
		Logger:       logger,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op until it succeeds, hits a terminal error, or runs out of attempts.
// A zero-valued result with a nil error is treated as ErrEmptyResult.
func Execute[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := r.InitialDelay
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	lastClass := ClassTerminal
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil && isEmptyResult(result) {
			err = ErrEmptyResult
		}
		if err == nil {
			return result, nil
		}

		class := Classify(err)
		if !class.Transient() {
			return zero, &UpstreamError{Class: class, Attempts: attempt, Err: err}
		}
		lastErr, lastClass = err, class
		if attempt == maxAttempts {
			break
		}

		delay = time.Duration(float64(delay) * class.backoffFactor())
		r.logger().WithFields(logrus.Fields{
			"attempt": attempt,
			"class":   class.String(),
			"delay":   delay.String(),
		}).WithError(err).Warn("Transient upstream error, retrying")
		if err := sleep(ctx, delay); err != nil {
			return zero, &UpstreamError{Class: lastClass, Attempts: attempt, Err: err}
		}
	}
	return zero, &UpstreamError{Class: lastClass, Attempts: maxAttempts, Err: lastErr}
}

// Do is Execute for operations that only report an error; a nil error is never
// treated as an empty result.
func Do(ctx context.Context, r *Retrier, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, r, func(ctx context.Context) (bool, error) {
		if err := op(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

func (r *Retrier) logger() *logrus.Entry {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func isEmptyResult(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}
