// Package backup snapshots column data before destructive schema
// changes and restores it by snapshot id, per spec §4.3.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// batchSize is the restore batch size mandated by spec §4.3.
const batchSize = 100

// Store persists backup records against the same database the schema
// driver manages; it reads/writes table data through driver.DB()
// directly since "the Schema Driver owns only live connections" (spec
// §3) and Store is not itself a connection owner.
type Store struct {
	driver    *schema.Driver
	retention time.Duration
}

// SetRetention overrides the window new snapshots are kept for (spec
// §4.3's "default 90-day expiration" — default, so operators may
// shorten or lengthen it via FIELDMIGRATE_BACKUP_RETENTION_DAYS).
// Backups already written keep the expiration they were stamped with.
func (s *Store) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// NewStore ensures the backups table exists and returns a Store bound
// to driver's connection, defaulting to the 90-day Retention window.
func NewStore(ctx context.Context, driver *schema.Driver) (*Store, error) {
	_, err := driver.DB().ExecContext(ctx, `
		create table if not exists backups (
			id           text primary key,
			form_id      text not null,
			table_name   text not null,
			column_name  text not null,
			kind         text not null check (kind in ('AUTO_DELETE', 'AUTO_MODIFY', 'MANUAL')),
			record_count integer not null,
			snapshot     text not null,
			created_at   text not null,
			expires_at   text not null
		);
		create index if not exists idx_backups_form_id on backups(form_id);
		create index if not exists idx_backups_expires_at on backups(expires_at);
	`)
	if err != nil {
		return nil, err
	}
	return &Store{driver: driver, retention: Retention}, nil
}

// Snapshot reads every (rowId, value) pair currently in table.column
// and persists an immutable record that expires after the store's
// retention window (90 days unless SetRetention changed it; spec
// §4.3). now is supplied by the caller (the migration engine) so tests
// can pin it.
func (s *Store) Snapshot(ctx context.Context, now time.Time, formID, table, column string, kind Kind) (*Record, error) {
	exists, err := s.driver.ColumnExists(ctx, table, column)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q.%q", ErrColumnMissing, table, column)
	}

	rows, err := s.driver.DB().QueryContext(ctx,
		fmt.Sprintf(`select %q, %q from %q order by %q;`, schema.PrimaryKeyColumn, column, table, schema.PrimaryKeyColumn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tuples []Tuple
	for rows.Next() {
		var rowID int64
		var value sql.NullString
		if err := rows.Scan(&rowID, &value); err != nil {
			return nil, err
		}
		t := Tuple{RowID: rowID}
		if value.Valid {
			v := value.String
			t.Value = &v
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snapshotJSON, err := json.Marshal(tuples)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:          uuid.NewString(),
		FormID:      formID,
		Table:       table,
		Column:      column,
		Kind:        kind,
		Snapshot:    tuples,
		RecordCount: len(tuples),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.retention),
	}

	_, err = s.driver.DB().ExecContext(ctx, `
		insert into backups (id, form_id, table_name, column_name, kind, record_count, snapshot, created_at, expires_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.FormID, rec.Table, rec.Column, string(rec.Kind), rec.RecordCount,
		string(snapshotJSON), rec.CreatedAt.UTC().Format(time.RFC3339), rec.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Restore writes each (rowId, value) pair from backupID's snapshot
// back into its original column, in batches of 100, skipping rows
// whose primary key no longer exists (spec §4.3). now is the caller's
// notion of the current time, used for the expiration check.
func (s *Store) Restore(ctx context.Context, now time.Time, backupID string) (restoredRowCount int, err error) {
	rec, err := s.Get(ctx, backupID)
	if err != nil {
		return 0, err
	}

	if rec.Expired(now) {
		return 0, fmt.Errorf("%w: backup %s expired at %s", ErrBackupExpired, rec.ID, rec.ExpiresAt)
	}

	exists, err := s.driver.ColumnExists(ctx, rec.Table, rec.Column)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %q.%q", ErrColumnMissing, rec.Table, rec.Column)
	}

	stmt := fmt.Sprintf(`update %q set %q = ? where %q = ?;`, rec.Table, rec.Column, schema.PrimaryKeyColumn)

	for i := 0; i < len(rec.Snapshot); i += batchSize {
		end := min(i+batchSize, len(rec.Snapshot))
		batch := rec.Snapshot[i:end]

		err := func() error {
			tx, err := s.driver.DB().BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			prepared, err := tx.PrepareContext(ctx, stmt)
			if err != nil {
				return err
			}
			defer prepared.Close()

			for _, t := range batch {
				res, err := prepared.ExecContext(ctx, t.Value, t.RowID)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				if n > 0 {
					restoredRowCount++
				}
			}

			return tx.Commit()
		}()
		if err != nil {
			return restoredRowCount, err
		}
	}

	return restoredRowCount, nil
}

// Get loads a backup record by id.
func (s *Store) Get(ctx context.Context, backupID string) (*Record, error) {
	row := s.driver.DB().QueryRowContext(ctx, `
		select id, form_id, table_name, column_name, kind, record_count, snapshot, created_at, expires_at
		from backups where id = ?;
	`, backupID)

	return scanRecord(row)
}

// List returns backups for formID matching filter (spec §6 listBackups).
func (s *Store) List(ctx context.Context, now time.Time, formID string, filter Filter) ([]*Record, error) {
	rows, err := s.driver.DB().QueryContext(ctx, `
		select id, form_id, table_name, column_name, kind, record_count, snapshot, created_at, expires_at
		from backups where form_id = ? order by created_at desc;
	`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		switch filter {
		case FilterActive:
			if rec.Expired(now) {
				continue
			}
		case FilterExpired:
			if !rec.Expired(now) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sweep deletes every backup whose expiration has passed (spec §4.3
// "periodic sweep").
func (s *Store) Sweep(ctx context.Context, now time.Time) (deleted int, err error) {
	res, err := s.driver.DB().ExecContext(ctx, `delete from backups where expires_at <= ?;`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var kind, snapshotJSON, createdAt, expiresAt string

	if err := row.Scan(&rec.ID, &rec.FormID, &rec.Table, &rec.Column, &kind,
		&rec.RecordCount, &snapshotJSON, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBackupNotFound
		}
		return nil, err
	}

	rec.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(snapshotJSON), &rec.Snapshot); err != nil {
		return nil, err
	}
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = created
	rec.ExpiresAt = expires

	return &rec, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
