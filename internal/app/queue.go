// internal/app/queue.go
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrQueueClosed is returned by futures of jobs submitted after Close.
var ErrQueueClosed = errors.New("dispatch queue is closed")

// QueueOptions bounds how the queue admits jobs.
type QueueOptions struct {
	// Concurrency is the maximum number of jobs in flight.
	Concurrency int
	// IntervalCap is the maximum number of job starts per Interval.
	IntervalCap int
	Interval    time.Duration
}

// Future is the pending result of a submitted job.
type Future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(result T, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// Done is closed once the job has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type queuedJob[T any] struct {
	run    func(ctx context.Context) (T, error)
	future *Future[T]
}

// Queue runs submitted jobs with bounded concurrency and a capped start rate.
// Jobs are admitted strictly in submission order; they may finish in any order.
//
// The start rate is a fixed window: time is cut into consecutive Interval-long
// windows from the first start, and each window admits at most IntervalCap starts.
type Queue[T any] struct {
	sem    *semaphore.Weighted
	logger *logrus.Entry

	// Window state, owned by the admit goroutine.
	interval     time.Duration
	intervalCap  int
	anchor       time.Time
	window       int64
	windowStarts int
	throttleLog  rate.Sometimes

	mu      sync.Mutex
	pending []queuedJob[T]
	closed  bool
	wake    chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	stopped chan struct{}
}

// NewQueue starts the admission loop. Call Close to stop it.
func NewQueue[T any](opts QueueOptions, logger *logrus.Entry) *Queue[T] {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger,
		throttleLog: rate.Sometimes{Interval: time.Minute},
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	if opts.IntervalCap > 0 && opts.Interval > 0 {
		q.interval, q.intervalCap = opts.Interval, opts.IntervalCap
	}
	go q.admit()
	return q
}

// Submit enqueues a job without blocking. The job receives the queue's context,
// which stays alive until Close has drained every admitted job.
func (q *Queue[T]) Submit(run func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		f.resolve(zero, ErrQueueClosed)
		return f
	}
	q.pending = append(q.pending, queuedJob[T]{run: run, future: f})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return f
}

// Len is the number of jobs waiting for admission.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) next() (queuedJob[T], bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return queuedJob[T]{}, false, q.closed
	}
	job := q.pending[0]
	q.pending[0] = queuedJob[T]{}
	q.pending = q.pending[1:]
	return job, true, q.closed
}

func (q *Queue[T]) admit() {
	defer close(q.stopped)
	for {
		job, ok, closed := q.next()
		if !ok {
			if closed {
				return
			}
			<-q.wake
			continue
		}

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			var zero T
			job.future.resolve(zero, err)
			continue
		}
		if err := q.waitForWindow(); err != nil {
			q.sem.Release(1)
			var zero T
			job.future.resolve(zero, err)
			continue
		}

		q.running.Add(1)
		go func(job queuedJob[T]) {
			defer q.running.Done()
			defer q.sem.Release(1)
			result, err := job.run(q.ctx)
			job.future.resolve(result, err)
		}(job)
	}
}

// waitForWindow takes a start slot in the current window, sleeping until the
// next window when this one is used up.
func (q *Queue[T]) waitForWindow() error {
	if q.intervalCap == 0 {
		return nil
	}
	for {
		now := time.Now()
		if q.anchor.IsZero() {
			q.anchor = now
		}
		if idx := int64(now.Sub(q.anchor) / q.interval); idx != q.window {
			q.window, q.windowStarts = idx, 0
		}
		if q.windowStarts < q.intervalCap {
			q.windowStarts++
			return nil
		}

		next := q.anchor.Add(time.Duration(q.window+1) * q.interval)
		if q.logger != nil {
			q.throttleLog.Do(func() {
				q.logger.WithField("interval_cap", q.intervalCap).Debug("Start-rate window full, holding jobs")
			})
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return q.ctx.Err()
		case <-timer.C:
		}
	}
}

// Close stops accepting jobs, waits for every already submitted job to finish,
// then releases the queue. There is no way to abort jobs already submitted.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.stopped
	q.running.Wait()
	q.cancel()
	if q.logger != nil {
		q.logger.Debug("Dispatch queue closed")
	}
}
