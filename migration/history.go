package migration

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ppongpan/Q-Collector-sub018/pagination"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// history persists migration records. It shares the schema driver's
// connection (spec §3's ownership rule: schema owns the only live
// connection). appendTx writes into a transaction the caller already
// has open, so the engine's four forward operations run their DDL and
// the resulting history record inside one shared transaction (spec
// §5). A failed attempt is recorded in its own short transaction
// instead, since by the time the engine learns of the failure the DDL
// transaction has already rolled back and there is nothing left to
// share.
type history struct {
	driver *schema.Driver
}

func newHistory(ctx context.Context, driver *schema.Driver) (*history, error) {
	_, err := driver.DB().ExecContext(ctx, `
		create table if not exists migrations (
			id            text primary key,
			form_id       text not null,
			field_id      text not null,
			kind          text not null,
			table_name    text not null,
			column_name   text not null,
			old_value     text not null default '',
			new_value     text not null default '',
			forward_sql   text not null default '',
			rollback_sql  text not null default '',
			success       integer not null,
			error_message text not null default '',
			backup_ref    text not null default '',
			rolls_back    text not null default '',
			actor         text not null default '',
			created_at    text not null
		);
		create index if not exists idx_migrations_form_id on migrations(form_id);
	`)
	if err != nil {
		return nil, err
	}
	return &history{driver: driver}, nil
}

// appendTx records rec using tx, the same transaction the triggering
// DDL ran in, so the migration record and the schema change commit or
// roll back together.
func (h *history) appendTx(ctx context.Context, tx *sql.Tx, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		insert into migrations (id, form_id, field_id, kind, table_name, column_name,
			old_value, new_value, forward_sql, rollback_sql, success, error_message,
			backup_ref, rolls_back, actor, created_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.FormID, rec.FieldID, string(rec.Kind), rec.Table, rec.Column,
		rec.OldValue, rec.NewValue, rec.ForwardSQL, rec.RollbackSQL,
		boolToInt(rec.Success), rec.ErrorMessage, rec.BackupRef, rec.RollsBack, rec.Actor,
		rec.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// appendFailure records a failed attempt outside of any DDL
// transaction, since by the time the caller knows the attempt failed
// the DDL transaction has already rolled back.
func (h *history) appendFailure(ctx context.Context, rec *Record) error {
	rec.Success = false
	tx, err := h.driver.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := h.appendTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *history) get(ctx context.Context, id string) (*Record, error) {
	row := h.driver.DB().QueryRowContext(ctx, `
		select id, form_id, field_id, kind, table_name, column_name, old_value, new_value,
			forward_sql, rollback_sql, success, error_message, backup_ref, rolls_back, actor, created_at
		from migrations where id = ?;
	`, id)
	return scanHistoryRecord(row)
}

// list returns formID's records in creation order, windowed to page
// (spec §6: "history | formId, paging"). page.Limit <= 0 means no
// window at all, matching pagination.Page's zero value.
func (h *history) list(ctx context.Context, formID string, page pagination.Page) ([]*Record, error) {
	query := `
		select id, form_id, field_id, kind, table_name, column_name, old_value, new_value,
			forward_sql, rollback_sql, success, error_message, backup_ref, rolls_back, actor, created_at
		from migrations where form_id = ? order by created_at asc`
	args := []any{formID}
	if page.Limit > 0 {
		query += ` limit ? offset ?`
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := h.driver.DB().QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// wasRolledBack reports whether id already has a record reversing it
// (spec §4.4: rollback is itself a new, append-only record, so a
// migration that already has a rollback cannot be rolled back again).
func (h *history) wasRolledBack(ctx context.Context, id string) (bool, error) {
	var n int
	err := h.driver.DB().QueryRowContext(ctx,
		`select count(*) from migrations where rolls_back = ?;`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type historyScanner interface {
	Scan(dest ...any) error
}

func scanHistoryRecord(row historyScanner) (*Record, error) {
	var rec Record
	var kind string
	var success int
	var createdAt string

	if err := row.Scan(&rec.ID, &rec.FormID, &rec.FieldID, &kind, &rec.Table, &rec.Column,
		&rec.OldValue, &rec.NewValue, &rec.ForwardSQL, &rec.RollbackSQL, &success,
		&rec.ErrorMessage, &rec.BackupRef, &rec.RollsBack, &rec.Actor, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMigrationNotFound
		}
		return nil, err
	}

	rec.Kind = OperationKind(kind)
	rec.Success = success != 0
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = created

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
