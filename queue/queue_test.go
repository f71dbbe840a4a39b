package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/queue"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// fakeExecutor tracks concurrent executions per form and lets tests
// gate completion, simulate transient failures, and inspect order.
type fakeExecutor struct {
	mu           sync.Mutex
	active       map[string]int
	maxActive    map[string]int
	gate         map[string]chan struct{}
	failTimes    map[string]int // formID -> number of leading transient failures before success
	autoComplete map[string]bool
	order        []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		active:       make(map[string]int),
		maxActive:    make(map[string]int),
		gate:         make(map[string]chan struct{}),
		failTimes:    make(map[string]int),
		autoComplete: make(map[string]bool),
	}
}

func (f *fakeExecutor) gateFor(formID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.gate[formID]
	if !ok {
		ch = make(chan struct{})
		f.gate[formID] = ch
	}
	return ch
}

func (f *fakeExecutor) release(formID string) {
	close(f.gateFor(formID))
}

func (f *fakeExecutor) Execute(ctx context.Context, actor rbac.Actor, formID string, op migration.Operation) (*migration.Record, error) {
	f.mu.Lock()
	f.active[formID]++
	if f.active[formID] > f.maxActive[formID] {
		f.maxActive[formID] = f.active[formID]
	}
	f.order = append(f.order, op.FieldID)
	remaining := f.failTimes[formID]
	if remaining > 0 {
		f.failTimes[formID]--
	}
	auto := f.autoComplete[formID]
	f.mu.Unlock()

	if !auto {
		<-f.gateFor(formID)
	}

	f.mu.Lock()
	f.active[formID]--
	f.mu.Unlock()

	if remaining > 0 {
		return nil, schema.ErrDeadlock
	}
	return &migration.Record{ID: "rec-" + op.FieldID, Success: true}, nil
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConcurrentFormsRunInParallelSameFormSerialized(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := newFakeExecutor()

	q, err := queue.NewQueue(ctx, db, exec, nil, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	q.Start(ctx)
	defer q.Stop()

	actor := rbac.Actor{ID: "u1", Role: rbac.Admin}

	_, err = q.Enqueue(ctx, actor, "formA", migration.Operation{FieldID: "op1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, actor, "formB", migration.Operation{FieldID: "op2"})
	require.NoError(t, err)

	// wait until both forms have an active job picked up
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.active["formA"] == 1 && exec.active["formB"] == 1
	}, time.Second, 5*time.Millisecond)

	jobID1a, err := q.Enqueue(ctx, actor, "formA", migration.Operation{FieldID: "op1a"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Waiting, 1)

	exec.release("formA")
	exec.release("formB")

	require.Eventually(t, func() bool {
		j, err := q.Metrics(ctx, "formA", 10)
		if err != nil || len(j) == 0 {
			return false
		}
		for _, job := range j {
			if job.ID == jobID1a && (job.State == queue.Active || job.State == queue.Completed) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	exec.mu.Lock()
	maxA := exec.maxActive["formA"]
	exec.mu.Unlock()
	assert.Equal(t, 1, maxA, "same-form jobs must never run concurrently")
}

func TestWaitingJobIsCancellable(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := newFakeExecutor()

	q, err := queue.NewQueue(ctx, db, exec, nil)
	require.NoError(t, err)

	actor := rbac.Actor{ID: "u1", Role: rbac.Admin}
	jobID, err := q.Enqueue(ctx, actor, "formA", migration.Operation{FieldID: "op1"})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, jobID))

	jobs, err := q.Metrics(ctx, "formA", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.Cancelled, jobs[0].State)
}

func TestActiveJobCannotBeCancelled(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := newFakeExecutor()

	q, err := queue.NewQueue(ctx, db, exec, nil, queue.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	q.Start(ctx)
	defer q.Stop()

	actor := rbac.Actor{ID: "u1", Role: rbac.Admin}
	jobID, err := q.Enqueue(ctx, actor, "formA", migration.Operation{FieldID: "op1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.active["formA"] == 1
	}, time.Second, 5*time.Millisecond)

	err = q.Cancel(ctx, jobID)
	assert.ErrorIs(t, err, queue.ErrJobNotCancellable)

	exec.release("formA")
}

func TestRetryOnTransientErrorEventuallySucceeds(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := newFakeExecutor()
	exec.failTimes["formA"] = 2 // fails twice, succeeds on the 3rd attempt
	exec.autoComplete["formA"] = true

	q, err := queue.NewQueue(ctx, db, exec, nil,
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithRetryDelay(1*time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	q.Start(ctx)
	defer q.Stop()

	actor := rbac.Actor{ID: "u1", Role: rbac.Admin}
	jobID, err := q.Enqueue(ctx, actor, "formA", migration.Operation{FieldID: "op1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := queueJob(t, q, ctx, jobID)
		if err != nil {
			return false
		}
		return j.State == queue.Completed || j.State == queue.Failed
	}, 2*time.Second, 10*time.Millisecond)

	j, err := queueJob(t, q, ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.Completed, j.State)
	assert.GreaterOrEqual(t, j.Attempt, 2)
}

func queueJob(t *testing.T, q *queue.Queue, ctx context.Context, jobID string) (*queue.Job, error) {
	t.Helper()
	jobs, err := q.Metrics(ctx, "formA", 10)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.ID == jobID {
			return j, nil
		}
	}
	return nil, errors.New("job not found in metrics")
}

func TestCrashedActiveJobIsRevertedToWaitingOnRecovery(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := newFakeExecutor()

	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Seed the durable table directly with a job stuck ACTIVE, the way
	// a crashed worker would leave it: no terminal state was ever
	// written after the ACTIVE transition.
	_, err := db.ExecContext(ctx, `
		create table if not exists migration_jobs (
			id text primary key, form_id text not null, operation text not null,
			actor_id text not null, actor_role text not null, state text not null,
			attempt integer not null default 0, last_error text not null default '',
			enqueued_at text not null, started_at text not null default '',
			finished_at text not null default '', next_attempt_at text not null default ''
		);
	`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		insert into migration_jobs (id, form_id, operation, actor_id, actor_role, state, attempt,
			enqueued_at, started_at)
		values ('job-stuck', 'formA', '{}', 'u1', 'admin', 'ACTIVE', 0, ?, ?);
	`, started.Format(time.RFC3339Nano), started.Format(time.RFC3339Nano))
	require.NoError(t, err)

	laterNow := started.Add(10 * time.Minute)
	q, err := queue.NewQueue(ctx, db, exec, nil,
		queue.WithClock(func() time.Time { return laterNow }),
		queue.WithVisibilityTimeout(5*time.Minute))
	require.NoError(t, err)

	j, err := queueJob(t, q, ctx, "job-stuck")
	require.NoError(t, err)
	assert.Equal(t, queue.Waiting, j.State)
	assert.Equal(t, 1, j.Attempt)
}
