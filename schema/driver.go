// Package schema executes primitive DDL/DML against dynamic per-form
// tables with transaction discipline and retry-classified errors. It
// is deliberately ignorant of form/field concepts (that's the
// migration package's job); schema only knows tables, columns and
// physical SQL types.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ppongpan/Q-Collector-sub018/ident"
)

// Driver owns the live database connection. The dynamic tables it
// mutates are owned by the migration engine; Driver itself owns only
// the connection pool (spec §3 "Ownership").
type Driver struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens a SQLite database with the same connection-string
// options the teacher's appview/spindle packages use
// (_foreign_keys=1, WAL journal, NORMAL synchronous, incremental
// auto_vacuum) and ensures the column-type bookkeeping table exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Driver, error) {
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dsn+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	d := &Driver{db: db, logger: logger}
	if err := d.ensureMetadataTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// DB exposes the underlying handle for components that need to read
// row data directly (backup.Store reads (rowId, value) pairs this
// way) without the schema package mediating every query.
func (d *Driver) DB() *sql.DB { return d.db }

func (d *Driver) Close() error { return d.db.Close() }

// BeginTx opens a transaction a caller can drive directly, so a
// migration's DDL and its history record can commit together (spec §5:
// "the Engine opens one transaction per migration that wraps DDL +
// history append"). Callers must Commit or Rollback it themselves.
func (d *Driver) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return tx, nil
}

// PrimaryKeyColumn is the fixed name of the primary key column every
// table created via CreateTable carries, matching spec §6's "every
// dynamic table carries at minimum a primary-key id column".
const PrimaryKeyColumn = "id"

// TimestampColumn is the fixed name of the creation-timestamp column
// every dynamic table carries.
const TimestampColumn = "created_at"

// querier is the subset of *sql.DB and *sql.Tx our internal read/write
// helpers need, so the same query logic serves both a caller-supplied
// transaction (the *Tx entry points) and the driver's own ad-hoc reads
// against d.db directly.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *Driver) ensureMetadataTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		create table if not exists column_physical_types (
			table_name     text not null,
			column_name    text not null,
			type_name      text not null,
			sql_fragment   text not null,
			check_fragment text not null default '',
			primary key (table_name, column_name)
		);
	`)
	return err
}

// CreateTable creates a new dynamic table with just the id primary key
// and created_at timestamp columns; user fields are added afterwards
// via AddColumn. table must already have passed ident.Validate.
func (d *Driver) CreateTable(ctx context.Context, table string) error {
	if !ident.Validate(table) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt := fmt.Sprintf(
			`create table %s (%s integer primary key autoincrement, %s text not null default (strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')));`,
			quoteIdent(table), quoteIdent(PrimaryKeyColumn), quoteIdent(TimestampColumn),
		)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify(err)
		}
		if err := d.recordColumnType(ctx, tx, table, PrimaryKeyColumn, PhysicalType{Name: "pk", SQL: "integer primary key autoincrement"}); err != nil {
			return err
		}
		return d.recordColumnType(ctx, tx, table, TimestampColumn, PhysicalType{Name: "timestamp", SQL: "text not null"})
	})
}

// AddColumn implements spec §4.2's addColumn primitive: col must not
// already exist; the new column is nullable with no default. It runs
// in its own, internally managed transaction; use AddColumnTx to share
// a transaction with a caller-driven history append.
func (d *Driver) AddColumn(ctx context.Context, table, col string, pt PhysicalType) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.addColumn(ctx, tx, table, col, pt)
	})
}

// AddColumnTx is AddColumn run against a transaction the caller opened
// (via BeginTx) and is responsible for committing or rolling back.
func (d *Driver) AddColumnTx(ctx context.Context, tx *sql.Tx, table, col string, pt PhysicalType) error {
	return d.addColumn(ctx, tx, table, col, pt)
}

func (d *Driver) addColumn(ctx context.Context, tx *sql.Tx, table, col string, pt PhysicalType) error {
	if err := validateIdentifiers(table, col); err != nil {
		return err
	}

	exists, err := d.columnExists(ctx, tx, table, col)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %q.%q", ErrColumnExists, table, col)
	}

	stmt := fmt.Sprintf(`alter table %s add column %s %s;`,
		quoteIdent(table), quoteIdent(col), pt.DDLFragment(col))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	return d.recordColumnType(ctx, tx, table, col, pt)
}

// DropColumn implements spec §4.2's dropColumn primitive. It runs in
// its own, internally managed transaction; use DropColumnTx to share a
// transaction with a caller-driven history append.
func (d *Driver) DropColumn(ctx context.Context, table, col string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.dropColumn(ctx, tx, table, col)
	})
}

// DropColumnTx is DropColumn run against a transaction the caller
// opened (via BeginTx) and is responsible for committing or rolling
// back.
func (d *Driver) DropColumnTx(ctx context.Context, tx *sql.Tx, table, col string) error {
	return d.dropColumn(ctx, tx, table, col)
}

func (d *Driver) dropColumn(ctx context.Context, tx *sql.Tx, table, col string) error {
	if err := validateIdentifiers(table, col); err != nil {
		return err
	}

	exists, err := d.columnExists(ctx, tx, table, col)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q.%q", ErrColumnMissing, table, col)
	}

	stmt := fmt.Sprintf(`alter table %s drop column %s;`, quoteIdent(table), quoteIdent(col))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	_, err = tx.ExecContext(ctx, `delete from column_physical_types where table_name = ? and column_name = ?;`, table, col)
	return err
}

// RenameColumn implements spec §4.2's renameColumn primitive. It runs
// in its own, internally managed transaction; use RenameColumnTx to
// share a transaction with a caller-driven history append.
func (d *Driver) RenameColumn(ctx context.Context, table, oldCol, newCol string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.renameColumn(ctx, tx, table, oldCol, newCol)
	})
}

// RenameColumnTx is RenameColumn run against a transaction the caller
// opened (via BeginTx) and is responsible for committing or rolling
// back.
func (d *Driver) RenameColumnTx(ctx context.Context, tx *sql.Tx, table, oldCol, newCol string) error {
	return d.renameColumn(ctx, tx, table, oldCol, newCol)
}

func (d *Driver) renameColumn(ctx context.Context, tx *sql.Tx, table, oldCol, newCol string) error {
	if err := validateIdentifiers(table, oldCol, newCol); err != nil {
		return err
	}

	exists, err := d.columnExists(ctx, tx, table, oldCol)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q.%q", ErrColumnMissing, table, oldCol)
	}
	newExists, err := d.columnExists(ctx, tx, table, newCol)
	if err != nil {
		return err
	}
	if newExists {
		return fmt.Errorf("%w: %q.%q", ErrColumnExists, table, newCol)
	}

	stmt := fmt.Sprintf(`alter table %s rename column %s to %s;`,
		quoteIdent(table), quoteIdent(oldCol), quoteIdent(newCol))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	_, err = tx.ExecContext(ctx,
		`update column_physical_types set column_name = ? where table_name = ? and column_name = ?;`,
		newCol, table, oldCol)
	return err
}

// ModifyColumnType implements spec §4.2's modifyColumnType primitive.
// Since SQLite has no ALTER COLUMN TYPE, this rebuilds the table the
// way the teacher's own "recreate-pulls-column-for-stacking-support"
// and "remove-issue-at-from-issues" migrations do: create a shadow
// table, copy data (applying castExpr to the one changing column),
// drop the original, rename the shadow into place. castExpr is a
// format string with one "%s" verb that receives the quoted old
// column identifier (use "%s" unchanged for a value-preserving copy,
// or e.g. `cast(%s as text)` for a narrowing/widening cast); the
// caller (migration.Engine) is responsible for having already run
// ScanValidate so the cast cannot fail at the database level.
// It runs in its own, internally managed transaction; use
// ModifyColumnTypeTx to share a transaction with a caller-driven
// history append.
func (d *Driver) ModifyColumnType(ctx context.Context, table, col string, newType PhysicalType, castExpr string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.modifyColumnType(ctx, tx, table, col, newType, castExpr)
	})
}

// ModifyColumnTypeTx is ModifyColumnType run against a transaction the
// caller opened (via BeginTx) and is responsible for committing or
// rolling back.
func (d *Driver) ModifyColumnTypeTx(ctx context.Context, tx *sql.Tx, table, col string, newType PhysicalType, castExpr string) error {
	return d.modifyColumnType(ctx, tx, table, col, newType, castExpr)
}

func (d *Driver) modifyColumnType(ctx context.Context, tx *sql.Tx, table, col string, newType PhysicalType, castExpr string) error {
	if err := validateIdentifiers(table, col); err != nil {
		return err
	}
	exists, err := d.columnExists(ctx, tx, table, col)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q.%q", ErrColumnMissing, table, col)
	}
	if castExpr == "" {
		castExpr = "%s"
	}

	cols, err := d.columnOrder(ctx, tx, table)
	if err != nil {
		return err
	}

	shadow := table + "__shadow"

	var defs []string
	var selectExprs []string
	var insertCols []string
	for _, c := range cols {
		pt, err := d.columnType(ctx, tx, table, c)
		if err != nil {
			return err
		}
		insertCols = append(insertCols, quoteIdent(c))
		if c == col {
			defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c), newType.DDLFragment(c)))
			selectExprs = append(selectExprs, fmt.Sprintf(castExpr, quoteIdent(c)))
		} else {
			defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c), pt.DDLFragment(c)))
			selectExprs = append(selectExprs, quoteIdent(c))
		}
	}

	createStmt := fmt.Sprintf(`create table %s (%s);`, quoteIdent(shadow), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return classify(err)
	}

	insertStmt := fmt.Sprintf(`insert into %s (%s) select %s from %s;`,
		quoteIdent(shadow), strings.Join(insertCols, ", "), strings.Join(selectExprs, ", "), quoteIdent(table))
	if _, err := tx.ExecContext(ctx, insertStmt); err != nil {
		return classify(err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`drop table %s;`, quoteIdent(table))); err != nil {
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`alter table %s rename to %s;`, quoteIdent(shadow), quoteIdent(table))); err != nil {
		return classify(err)
	}

	return d.recordColumnType(ctx, tx, table, col, newType)
}

// ScanValidate runs validate over every non-null value currently
// stored in table.col, in a dedicated short-lived transaction separate
// from the eventual DDL transaction (spec §4.2: "modifyColumnType runs
// its validation pre-check in a separate short-lived transaction
// before the DDL, to reduce lock time"). It returns the first value
// that fails validation, if any.
func (d *Driver) ScanValidate(ctx context.Context, table, col string, validate func(string) bool) (ok bool, firstInvalid string, err error) {
	if err := validateIdentifiers(table, col); err != nil {
		return false, "", err
	}

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, "", classify(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`select %s from %s where %s is not null;`,
		quoteIdent(col), quoteIdent(table), quoteIdent(col)))
	if err != nil {
		return false, "", classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return false, "", classify(err)
		}
		if !validate(v) {
			return false, v, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, "", classify(err)
	}

	return true, "", nil
}

// ColumnExists reports whether col is currently a column of table.
func (d *Driver) ColumnExists(ctx context.Context, table, col string) (bool, error) {
	return d.columnExists(ctx, d.db, table, col)
}

func (d *Driver) columnExists(ctx context.Context, q querier, table, col string) (bool, error) {
	if !ident.Validate(table) {
		return false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`pragma table_info(%s);`, quoteIdent(table)))
	if err != nil {
		return false, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

// TableExists reports whether table exists.
func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := d.db.QueryRowContext(ctx,
		`select name from sqlite_master where type = 'table' and name = ?;`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// RowCount returns the number of rows currently in table, used by the
// engine to populate previewMigration's estimatedRows.
func (d *Driver) RowCount(ctx context.Context, table string) (int, error) {
	if !ident.Validate(table) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	var n int
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`select count(*) from %s;`, quoteIdent(table))).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// ColumnPhysicalType returns the last-recorded physical type for
// table.col, if any column by that name has ever been created via
// this driver.
func (d *Driver) ColumnPhysicalType(ctx context.Context, table, col string) (PhysicalType, bool, error) {
	var pt PhysicalType
	var check sql.NullString
	err := d.db.QueryRowContext(ctx,
		`select type_name, sql_fragment, check_fragment from column_physical_types where table_name = ? and column_name = ?;`,
		table, col).Scan(&pt.Name, &pt.SQL, &check)
	if errors.Is(err, sql.ErrNoRows) {
		return PhysicalType{}, false, nil
	}
	if err != nil {
		return PhysicalType{}, false, classify(err)
	}
	pt.Check = check.String
	return pt, true, nil
}

func (d *Driver) columnType(ctx context.Context, q querier, table, col string) (PhysicalType, error) {
	var pt PhysicalType
	var check sql.NullString
	err := q.QueryRowContext(ctx,
		`select type_name, sql_fragment, check_fragment from column_physical_types where table_name = ? and column_name = ?;`,
		table, col).Scan(&pt.Name, &pt.SQL, &check)
	if err != nil {
		return PhysicalType{}, fmt.Errorf("schema: no recorded type for %q.%q: %w", table, col, err)
	}
	pt.Check = check.String
	return pt, nil
}

func (d *Driver) recordColumnType(ctx context.Context, q querier, table, col string, pt PhysicalType) error {
	_, err := q.ExecContext(ctx, `
		insert into column_physical_types (table_name, column_name, type_name, sql_fragment, check_fragment)
		values (?, ?, ?, ?, ?)
		on conflict(table_name, column_name) do update set
			type_name = excluded.type_name,
			sql_fragment = excluded.sql_fragment,
			check_fragment = excluded.check_fragment;
	`, table, col, pt.Name, pt.SQL, pt.Check)
	return err
}

// columnOrder returns table's columns in their declared (pragma)
// order, used to preserve column ordering across a rebuild.
func (d *Driver) columnOrder(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`pragma table_info(%s);`, quoteIdent(table)))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (d *Driver) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func validateIdentifiers(names ...string) error {
	for _, n := range names {
		if !ident.Validate(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

func quoteIdent(s string) string { return `"` + s + `"` }

// classify maps a raw driver error onto the taxonomy in spec §4.2/§7.
// Errors already in the taxonomy (e.g. returned by our own
// precondition checks) pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrColumnExists) || errors.Is(err, ErrColumnMissing) ||
		errors.Is(err, ErrTypeConversion) || errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrDeadlock) || errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrInvalidIdentifier) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrDeadlock, err)
		case sqlite3.ErrPerm, sqlite3.ErrAuth:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrTypeConversion, err)
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	return err
}
