// internal/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/model"
)

// ErrClosed is returned by Add once Close has been called.
var ErrClosed = errors.New("queue is closed")

// Job is one unit of work on a lane.
type Job struct {
	ID          string
	Data        model.JobData
	Attempt     int
	MaxAttempts int
	EnqueuedAt  time.Time
}

// Handler processes a job. A returned error fails the attempt.
type Handler func(ctx context.Context, job Job) error

// Middleware decorates a handler, e.g. with rate limiting.
type Middleware func(Handler) Handler

// AddOptions mirror the options callers pass when enqueueing.
type AddOptions struct {
	// JobID de-duplicates enqueues within the payload's scope. Empty means a random id.
	JobID string
	// RemoveOnComplete releases the job id after success so it can be enqueued again.
	RemoveOnComplete bool
}

// LaneOptions configure a lane's worker pool and retry policy.
type LaneOptions struct {
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
}

type lane struct {
	name    model.Lane
	opts    LaneOptions
	pool    *workerpool.WorkerPool
	handler Handler
}

type entry struct {
	job              Job
	removeOnComplete bool
	backoff          backoff.BackOff
}

// Queue is an in-process work queue with independently sized lanes.
type Queue struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	lanes     map[model.Lane]*lane
	reserved  map[string]struct{}
	timers    map[*time.Timer]struct{}
	closed    bool
	inflight  sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []Listener
}

func New(logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[model.Lane]*lane),
		reserved: make(map[string]struct{}),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Process registers the handler of a lane and starts its worker pool.
func (q *Queue) Process(name model.Lane, opts LaneOptions, handler Handler, middleware ...Middleware) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.lanes[name] = &lane{
		name:    name,
		opts:    opts,
		pool:    workerpool.New(opts.Concurrency),
		handler: handler,
	}
	q.logger.Info("Queue lane started", "lane", name, "concurrency", opts.Concurrency, "max_attempts", opts.MaxAttempts)
}

// Add validates and enqueues data on its lane. It returns false without error
// when a job with the same id is already queued, retrying or running.
func (q *Queue) Add(data model.JobData, opts AddOptions) (bool, error) {
	if data == nil {
		return false, &custom_errors.ErrInvalidJob{Lane: "unknown", Reason: "nil payload"}
	}
	if err := data.Validate(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	l, ok := q.lanes[data.Lane()]
	if !ok {
		return false, fmt.Errorf("no handler registered for lane %s", data.Lane())
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	key := reservationKey(data, id)
	if _, dup := q.reserved[key]; dup {
		q.logger.Debug("Skipping duplicate job", "lane", l.name, "job_id", id)
		return false, nil
	}
	q.reserved[key] = struct{}{}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.RetryDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	e := &entry{
		job: Job{
			ID:          id,
			Data:        data,
			Attempt:     1,
			MaxAttempts: l.opts.MaxAttempts,
			EnqueuedAt:  time.Now(),
		},
		removeOnComplete: opts.RemoveOnComplete,
		backoff:          bo,
	}
	q.submit(l, e)
	return true, nil
}

// submit must be called with q.mu held.
func (q *Queue) submit(l *lane, e *entry) {
	q.inflight.Add(1)
	l.pool.Submit(func() {
		defer q.inflight.Done()
		q.run(l, e)
	})
}

func (q *Queue) run(l *lane, e *entry) {
	job := e.job
	logger := q.logger.With("lane", l.name, "job_id", job.ID, "attempt", job.Attempt)

	if q.ctx.Err() != nil {
		q.release(job, true)
		return
	}
	// Payloads are re-validated in case a retry outlived a schema change.
	if err := job.Data.Validate(); err != nil {
		logger.Error("Dropping invalid job", "error", err)
		q.emit(Event{Kind: EventError, Lane: l.name, Job: job, Err: err})
		q.release(job, true)
		return
	}

	q.emit(Event{Kind: EventActive, Lane: l.name, Job: job})
	start := time.Now()
	err := q.call(l.handler, job)
	elapsed := time.Since(start)

	if err == nil {
		logger.Debug("Job completed", "duration", elapsed.String())
		q.emit(Event{Kind: EventCompleted, Lane: l.name, Job: job, Duration: elapsed})
		q.release(job, e.removeOnComplete)
		return
	}

	final := job.Attempt >= job.MaxAttempts || q.ctx.Err() != nil || isPermanent(err)
	q.emit(Event{Kind: EventFailed, Lane: l.name, Job: job, Err: err, Final: final, Duration: elapsed})
	if final {
		logger.Error("Job failed permanently", "error", err)
		q.release(job, true)
		return
	}

	delay := e.backoff.NextBackOff()
	logger.Warn("Job failed, retrying", "error", err, "delay", delay.String())
	q.retryAfter(l, e, delay)
}

// call runs the handler, turning a panic into an error event and a failed attempt.
func (q *Queue) call(h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			q.emit(Event{Kind: EventError, Lane: job.Data.Lane(), Job: job, Err: err})
		}
	}()
	return h(q.ctx, job)
}

func (q *Queue) retryAfter(l *lane, e *entry, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.releaseLocked(e.job, true)
		return
	}

	q.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.inflight.Done()
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			q.releaseLocked(e.job, true)
			return
		}
		e.job.Attempt++
		q.submit(l, e)
	})
	q.timers[timer] = struct{}{}
}

func (q *Queue) release(job Job, remove bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked(job, remove)
}

func (q *Queue) releaseLocked(job Job, remove bool) {
	if remove {
		delete(q.reserved, reservationKey(job.Data, job.ID))
	}
}

// Close stops accepting jobs, cancels pending retries and in-flight handlers'
// context, and waits for running jobs to return or ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		if timer.Stop() {
			q.inflight.Done()
		}
	}
	q.timers = map[*time.Timer]struct{}{}
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		lanes = append(lanes, l)
	}
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		for _, l := range lanes {
			l.pool.StopWait()
		}
		q.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reservationKey(data model.JobData, id string) string {
	return string(data.Lane()) + "/" + data.Scope() + "/" + id
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	var invalid *custom_errors.ErrInvalidJob
	return errors.As(err, &permanent) || errors.As(err, &invalid)
}
