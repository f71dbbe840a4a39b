// Package queue serializes migrations per form while allowing
// independent forms to run concurrently, retrying transient failures
// with backoff and surviving worker crashes via a durable job table,
// per spec §4.5.
package queue

import (
	"time"

	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
)

// State is one of a job's lifecycle states (spec §3 "Job").
type State string

const (
	Waiting   State = "WAITING"
	Active    State = "ACTIVE"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Delayed   State = "DELAYED"
	Cancelled State = "CANCELLED"
)

// Job is the durable unit of work the queue dispatches to the
// migration engine (spec §3).
type Job struct {
	ID        string
	FormID    string
	Op        migration.Operation
	Actor     rbac.Actor
	State     State
	Attempt   int
	LastError string

	EnqueuedAt    time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	NextAttemptAt time.Time
}

// Status is the aggregate job count over the rolling window spec §4.5
// asks status() to report.
type Status struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// backoffSchedule supplies the default retry delays: its first entry is
// the base delay and its last the cap handed to retry-go's
// BackOffDelay, which doubles the delay after each failed attempt.
// With maxAttempts of 3 the waits are 1s and then 2s; the 4s entry is
// not used.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	4 * time.Second,
	16 * time.Second,
}

// maxAttempts is the number of attempts (including the first) spec
// §4.5 allows before a transient failure becomes terminal.
const maxAttempts = 3

// statusWindow is the rolling window status() aggregates over (spec
// §4.5 "counts over a rolling 24-hour window").
const statusWindow = 24 * time.Hour

// defaultVisibilityTimeout bounds how long a job may sit ACTIVE before
// a crashed worker's claim is presumed lost and the job is reverted to
// WAITING (spec §4.5 "Liveness").
const defaultVisibilityTimeout = 5 * time.Minute

// defaultPollInterval is the dispatch loop's wake-up cadence, within
// spec §5's "wake-up latency ≤ 1s" bound.
const defaultPollInterval = 250 * time.Millisecond
