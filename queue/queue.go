package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/ppongpan/Q-Collector-sub018/eventsink"
	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// Queue dispatches durable jobs to an Executor with per-form
// serialization, FIFO ordering within a form, retry with backoff on
// transient errors, and crash recovery via a visibility timeout (spec
// §4.5). It is the adapted, durable counterpart to the teacher's
// purely in-memory spindle/queue/queue.go worker pool.
type Queue struct {
	store    *jobStore
	executor Executor
	sink     eventsink.Sink
	logger   *slog.Logger

	visibilityTimeout time.Duration
	pollInterval      time.Duration
	retryBaseDelay    time.Duration
	retryMaxDelay     time.Duration
	now               func() time.Time

	mu      sync.Mutex
	waiting map[string][]string // formID -> FIFO waiting job IDs
	active  map[string]string   // formID -> currently active job ID

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Queue at construction time.
type Option func(*Queue)

func WithVisibilityTimeout(d time.Duration) Option { return func(q *Queue) { q.visibilityTimeout = d } }
func WithPollInterval(d time.Duration) Option      { return func(q *Queue) { q.pollInterval = d } }
func WithClock(now func() time.Time) Option        { return func(q *Queue) { q.now = now } }
func WithLogger(l *slog.Logger) Option             { return func(q *Queue) { q.logger = l } }

// WithRetryDelay overrides the backoff base/max delay, for tests that
// need the full 3-attempt retry ladder to run in milliseconds rather
// than spec §4.5's production 1s/16s.
func WithRetryDelay(base, max time.Duration) Option {
	return func(q *Queue) { q.retryBaseDelay, q.retryMaxDelay = base, max }
}

// NewQueue opens (creating if needed) the durable job table, rebuilds
// the in-memory FIFO index from WAITING jobs, and reverts any ACTIVE
// job whose visibility timeout has already elapsed back to WAITING
// (spec §4.5 "Liveness") before returning.
func NewQueue(ctx context.Context, db *sql.DB, executor Executor, sink eventsink.Sink, opts ...Option) (*Queue, error) {
	store, err := newJobStore(ctx, db)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		store:             store,
		executor:          executor,
		sink:              sink,
		visibilityTimeout: defaultVisibilityTimeout,
		pollInterval:      defaultPollInterval,
		retryBaseDelay:    backoffSchedule[0],
		retryMaxDelay:     backoffSchedule[len(backoffSchedule)-1],
		now:               time.Now,
		waiting:           make(map[string][]string),
		active:            make(map[string]string),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.sink == nil {
		q.sink = eventsink.BaseSink{}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}

	if err := q.recover(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// recover rebuilds the in-memory FIFO index from durable state and
// reclaims stuck ACTIVE jobs, per spec §4.5's liveness property.
func (q *Queue) recover(ctx context.Context) error {
	active, err := q.store.listByState(ctx, Active)
	if err != nil {
		return err
	}
	for _, j := range active {
		if q.now().Sub(j.StartedAt) >= q.visibilityTimeout {
			j.State = Waiting
			j.Attempt++
			j.StartedAt = time.Time{}
			if err := q.store.updateState(ctx, j); err != nil {
				return err
			}
		} else {
			q.active[j.FormID] = j.ID
		}
	}

	waiting, err := q.store.listByState(ctx, Waiting)
	if err != nil {
		return err
	}
	for i := len(waiting) - 1; i >= 0; i-- {
		j := waiting[i]
		q.waiting[j.FormID] = append([]string{j.ID}, q.waiting[j.FormID]...)
	}
	return nil
}

// Enqueue admits a job and returns its identity immediately (spec
// §4.5 "enqueue(job)").
func (q *Queue) Enqueue(ctx context.Context, actor rbac.Actor, formID string, op migration.Operation) (string, error) {
	j := &Job{
		ID:         uuid.NewString(),
		FormID:     formID,
		Op:         op,
		Actor:      actor,
		State:      Waiting,
		EnqueuedAt: q.now(),
	}
	if err := q.store.insert(ctx, j); err != nil {
		return "", err
	}

	q.mu.Lock()
	q.waiting[formID] = append(q.waiting[formID], j.ID)
	depth := len(q.waiting[formID])
	q.mu.Unlock()

	q.sink.MigrationEnqueued(ctx, j.ID, formID, op.FieldID)
	q.sink.QueueDepthChanged(ctx, formID, depth)
	return j.ID, nil
}

// Cancel marks a WAITING or DELAYED job CANCELLED. It fails with
// ErrJobNotCancellable for a job in any other state (spec §4.5
// "ACTIVE jobs are not [cancellable]").
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	j, err := q.store.get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != Waiting && j.State != Delayed {
		return ErrJobNotCancellable
	}

	q.mu.Lock()
	q.removeWaiting(j.FormID, jobID)
	q.mu.Unlock()

	j.State = Cancelled
	j.FinishedAt = q.now()
	return q.store.updateState(ctx, j)
}

func (q *Queue) removeWaiting(formID, jobID string) {
	ids := q.waiting[formID]
	for i, id := range ids {
		if id == jobID {
			q.waiting[formID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Status reports job counts over the rolling 24-hour window (spec
// §4.5 "status()").
func (q *Queue) Status(ctx context.Context) (Status, error) {
	return q.store.countsSince(ctx, q.now().Add(-statusWindow))
}

// Metrics returns formID's recent jobs, most recent first (spec §4.5
// "metrics(formId)").
func (q *Queue) Metrics(ctx context.Context, formID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.listByForm(ctx, formID, limit)
}

// Start launches the dispatch loop in a background goroutine. Stop
// must be called to release it.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(q.done)
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-ticker.C:
				q.dispatchEligible(ctx)
			}
		}
	}()
}

// Stop signals the dispatch loop to exit and waits for it to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// dispatchEligible claims the head job of every form that has no
// active job, and runs each claimed job in
// its own goroutine (spec §4.5 "per-form serialization").
func (q *Queue) dispatchEligible(ctx context.Context) {
	var claims []string

	q.mu.Lock()
	for formID, ids := range q.waiting {
		if len(ids) == 0 {
			continue
		}
		if _, busy := q.active[formID]; busy {
			continue
		}
		jobID := ids[0]
		q.waiting[formID] = ids[1:]
		q.active[formID] = jobID
		claims = append(claims, jobID)
	}
	q.mu.Unlock()

	for _, jobID := range claims {
		q.wg.Add(1)
		go func(jobID string) {
			defer q.wg.Done()
			q.run(ctx, jobID)
		}(jobID)
	}
}

// run executes one claimed job to completion, including in-line retry
// with backoff for transient errors, the way retry.Do drives
// eventconsumer's reconnect loop.
func (q *Queue) run(ctx context.Context, jobID string) {
	j, err := q.store.get(ctx, jobID)
	if err != nil {
		q.logger.ErrorContext(ctx, "queue: failed to load claimed job", "job_id", jobID, "error", err)
		return
	}

	j.State = Active
	j.StartedAt = q.now()
	if err := q.store.updateState(ctx, j); err != nil {
		q.logger.ErrorContext(ctx, "queue: failed to persist active transition", "job_id", jobID, "error", err)
		return
	}
	q.sink.MigrationStarted(ctx, j.ID, j.FormID, j.Op.FieldID)

	var rec *migration.Record
	execErr := retry.Do(
		func() error {
			var err error
			rec, err = q.executor.Execute(ctx, j.Actor, j.FormID, j.Op)
			if err != nil {
				j.Attempt++
				j.LastError = err.Error()
				_ = q.store.updateState(ctx, j)
			}
			return err
		},
		retry.Attempts(maxAttempts),
		retry.RetryIf(isTransient),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(q.retryBaseDelay),
		retry.MaxDelay(q.retryMaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			q.logger.InfoContext(ctx, "queue: retrying migration job", "job_id", j.ID, "attempt", n+1, "error", err)
		}),
	)

	q.mu.Lock()
	delete(q.active, j.FormID)
	q.mu.Unlock()

	j.FinishedAt = q.now()
	if execErr != nil {
		j.State = Failed
		j.LastError = execErr.Error()
		_ = q.store.updateState(ctx, j)
		q.sink.MigrationFailed(ctx, j.ID, j.FormID, j.Op.FieldID, execErr)
		return
	}

	j.State = Completed
	_ = q.store.updateState(ctx, j)
	recordID := ""
	if rec != nil {
		recordID = rec.ID
	}
	q.sink.MigrationCompleted(ctx, j.ID, j.FormID, j.Op.FieldID, recordID)
}

// isTransient reports whether err is one of the two retryable classes
// spec §4.5 names: Deadlock and ConnectionLost. Every other error is
// terminal.
func isTransient(err error) bool {
	return errors.Is(err, schema.ErrDeadlock) || errors.Is(err, schema.ErrConnectionLost)
}
