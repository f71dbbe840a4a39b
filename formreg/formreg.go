// Package formreg is a thin, durable implementation of
// migration.FormProvider: a registry of a form's current field
// descriptors, bootstrapped the same way schema.Driver and
// backup.Store create their own tables against the shared *sql.DB
// (appview/db/db.go's "create table if not exists" idiom). The
// migration engine only ever asks it one question — is this field
// still part of the form — so it stays deliberately small.
package formreg

import (
	"context"
	"database/sql"

	"github.com/ppongpan/Q-Collector-sub018/migration"
)

// Store persists form field descriptors against the same database the
// schema driver manages.
type Store struct {
	db *sql.DB
}

// NewStore ensures the form_fields table exists and returns a Store
// bound to db.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, `
		create table if not exists form_fields (
			form_id       text not null,
			field_id      text not null,
			title         text not null,
			logical       text not null,
			display_order integer not null,
			primary key (form_id, field_id)
		);
	`)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

var _ migration.FormProvider = (*Store)(nil)

// Put upserts f's descriptor for formID, the way a form builder
// collaborator would publish a field change before a migration runs.
func (s *Store) Put(ctx context.Context, formID string, f migration.Field) error {
	_, err := s.db.ExecContext(ctx, `
		insert into form_fields (form_id, field_id, title, logical, display_order)
		values (?, ?, ?, ?, ?)
		on conflict (form_id, field_id) do update set
			title = excluded.title, logical = excluded.logical, display_order = excluded.display_order;
	`, formID, f.ID, f.Title, string(f.Logical), f.DisplayOrder)
	return err
}

// Remove deletes a field descriptor, the registry-side counterpart of
// a form builder actually removing a field before DropColumn runs.
func (s *Store) Remove(ctx context.Context, formID, fieldID string) error {
	_, err := s.db.ExecContext(ctx, `delete from form_fields where form_id = ? and field_id = ?;`, formID, fieldID)
	return err
}

// FieldByID implements migration.FormProvider.
func (s *Store) FieldByID(ctx context.Context, formID, fieldID string) (migration.Field, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select field_id, title, logical, display_order from form_fields
		where form_id = ? and field_id = ?;
	`, formID, fieldID)

	var f migration.Field
	var logical string
	err := row.Scan(&f.ID, &f.Title, &logical, &f.DisplayOrder)
	if err == sql.ErrNoRows {
		return migration.Field{}, false, nil
	}
	if err != nil {
		return migration.Field{}, false, err
	}
	f.Logical = migration.LogicalType(logical)
	return f, true, nil
}

// List returns every field currently registered for formID, ordered by
// display order, the input migration.DetectChanges expects.
func (s *Store) List(ctx context.Context, formID string) ([]migration.Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		select field_id, title, logical, display_order from form_fields
		where form_id = ? order by display_order asc;
	`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []migration.Field
	for rows.Next() {
		var f migration.Field
		var logical string
		if err := rows.Scan(&f.ID, &f.Title, &logical, &f.DisplayOrder); err != nil {
			return nil, err
		}
		f.Logical = migration.LogicalType(logical)
		out = append(out, f)
	}
	return out, rows.Err()
}
