package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ppongpan/Q-Collector-sub018/rbac"
)

// jobStore persists jobs to the migration_jobs table, the durable
// store spec §5 requires behind the in-memory dispatch index.
type jobStore struct {
	db *sql.DB
}

func newJobStore(ctx context.Context, db *sql.DB) (*jobStore, error) {
	_, err := db.ExecContext(ctx, `
		create table if not exists migration_jobs (
			id              text primary key,
			form_id         text not null,
			operation       text not null,
			actor_id        text not null,
			actor_role      text not null,
			state           text not null,
			attempt         integer not null default 0,
			last_error      text not null default '',
			enqueued_at     text not null,
			started_at      text not null default '',
			finished_at     text not null default '',
			next_attempt_at text not null default ''
		);
		create index if not exists idx_migration_jobs_form_id on migration_jobs(form_id);
		create index if not exists idx_migration_jobs_state on migration_jobs(state);
	`)
	if err != nil {
		return nil, err
	}
	return &jobStore{db: db}, nil
}

func (s *jobStore) insert(ctx context.Context, j *Job) error {
	opJSON, err := json.Marshal(j.Op)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into migration_jobs (id, form_id, operation, actor_id, actor_role, state, attempt,
			last_error, enqueued_at, started_at, finished_at, next_attempt_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, j.ID, j.FormID, string(opJSON), j.Actor.ID, string(j.Actor.Role), string(j.State), j.Attempt,
		j.LastError, formatTime(j.EnqueuedAt), formatTime(j.StartedAt), formatTime(j.FinishedAt), formatTime(j.NextAttemptAt))
	return err
}

// updateState persists a job's mutable fields in one statement; called
// at every state transition so a crash between transitions leaves the
// durable record consistent with the last completed transition.
func (s *jobStore) updateState(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		update migration_jobs set state = ?, attempt = ?, last_error = ?,
			started_at = ?, finished_at = ?, next_attempt_at = ?
		where id = ?;
	`, string(j.State), j.Attempt, j.LastError,
		formatTime(j.StartedAt), formatTime(j.FinishedAt), formatTime(j.NextAttemptAt), j.ID)
	return err
}

func (s *jobStore) get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, form_id, operation, actor_id, actor_role, state, attempt, last_error,
			enqueued_at, started_at, finished_at, next_attempt_at
		from migration_jobs where id = ?;
	`, id)
	return scanJob(row)
}

// listByForm returns a form's jobs newest-first, used by metrics(formId).
func (s *jobStore) listByForm(ctx context.Context, formID string, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, form_id, operation, actor_id, actor_role, state, attempt, last_error,
			enqueued_at, started_at, finished_at, next_attempt_at
		from migration_jobs where form_id = ? order by enqueued_at desc limit ?;
	`, formID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// listByState returns every job currently in state, oldest enqueued first.
func (s *jobStore) listByState(ctx context.Context, state State) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, form_id, operation, actor_id, actor_role, state, attempt, last_error,
			enqueued_at, started_at, finished_at, next_attempt_at
		from migration_jobs where state = ? order by enqueued_at asc;
	`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// countsSince returns per-state counts for jobs enqueued at or after
// since, backing status()'s rolling window.
func (s *jobStore) countsSince(ctx context.Context, since time.Time) (Status, error) {
	rows, err := s.db.QueryContext(ctx,
		`select state, count(*) from migration_jobs where enqueued_at >= ? group by state;`,
		formatTime(since))
	if err != nil {
		return Status{}, err
	}
	defer rows.Close()

	var st Status
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Status{}, err
		}
		switch State(state) {
		case Waiting:
			st.Waiting = n
		case Active:
			st.Active = n
		case Completed:
			st.Completed = n
		case Failed:
			st.Failed = n
		case Delayed:
			st.Delayed = n
		}
	}
	return st, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var opJSON, state, role, enqueuedAt, startedAt, finishedAt, nextAttemptAt string

	if err := row.Scan(&j.ID, &j.FormID, &opJSON, &j.Actor.ID, &role, &state, &j.Attempt,
		&j.LastError, &enqueuedAt, &startedAt, &finishedAt, &nextAttemptAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	j.Actor.Role = rbac.Role(role)
	j.State = State(state)
	if err := json.Unmarshal([]byte(opJSON), &j.Op); err != nil {
		return nil, err
	}

	var err error
	if j.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	if j.NextAttemptAt, err = parseTime(nextAttemptAt); err != nil {
		return nil, err
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
