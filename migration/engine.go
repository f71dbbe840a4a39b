package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppongpan/Q-Collector-sub018/backup"
	"github.com/ppongpan/Q-Collector-sub018/eventsink"
	"github.com/ppongpan/Q-Collector-sub018/pagination"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// FormProvider resolves the current field definition for a form, so
// the engine can check whether a field scheduled for drop is still
// part of the live form (spec §4.4 edge case: dropping a field whose
// descriptor still exists fails with ErrFieldStillPresent). Callers
// own the form model; the engine only needs this one read.
type FormProvider interface {
	FieldByID(ctx context.Context, formID, fieldID string) (Field, bool, error)
}

// Engine is the migration component: it plans, previews, validates and
// applies individual schema changes, and supports rollback, enforcing
// authorization at every public entry point (spec §4.4, §6).
type Engine struct {
	driver   *schema.Driver
	backups  *backup.Store
	history  *history
	sink     eventsink.Sink
	enforcer *rbac.Enforcer
	forms    FormProvider
	now      func() time.Time
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the engine's notion of "now", for tests that
// need to control backup expiration and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an Engine against an already-open schema driver,
// backup store, authorization enforcer, event sink and form provider.
func NewEngine(ctx context.Context, driver *schema.Driver, backups *backup.Store, enforcer *rbac.Enforcer, sink eventsink.Sink, forms FormProvider, opts ...Option) (*Engine, error) {
	h, err := newHistory(ctx, driver)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		driver:   driver,
		backups:  backups,
		history:  h,
		sink:     sink,
		enforcer: enforcer,
		forms:    forms,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = eventsink.BaseSink{}
	}
	return e, nil
}

func (e *Engine) authorize(actor rbac.Actor, op rbac.Operation) error {
	ok, err := e.enforcer.Allow(actor, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %q cannot %s", ErrUnauthorized, actor.Role, op)
	}
	return nil
}

func descriptorJSON(lt LogicalType) string {
	b, _ := json.Marshal(struct {
		Logical LogicalType `json:"logical"`
	}{lt})
	return string(b)
}

// AddColumn adds a new nullable column for a newly added field (spec
// §4.4 operation 1).
func (e *Engine) AddColumn(ctx context.Context, actor rbac.Actor, formID string, op Operation) (*Record, error) {
	if err := e.authorize(actor, rbac.OpApply); err != nil {
		return nil, err
	}

	pt := PhysicalTypeFor(op.NewLogical)
	rec := &Record{
		FormID: formID, FieldID: op.FieldID, Kind: AddColumn,
		Table: op.Table, Column: op.Column,
		NewValue:   descriptorJSON(op.NewLogical),
		ForwardSQL: fmt.Sprintf(`alter table %q add column %q %s`, op.Table, op.Column, pt.SQL),
		Actor:      actor.ID, CreatedAt: e.now(),
	}

	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.driver.AddColumnTx(ctx, tx, op.Table, op.Column, pt); err != nil {
		tx.Rollback()
		rec.ErrorMessage = err.Error()
		if herr := e.history.appendFailure(ctx, rec); herr != nil {
			return nil, herr
		}
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}

	rec.RollbackSQL = fmt.Sprintf(`alter table %q drop column %q`, op.Table, op.Column)
	rec.Success = true
	if err := e.commitWithHistory(ctx, tx, rec); err != nil {
		return nil, err
	}
	e.sink.MigrationCompleted(ctx, "", formID, op.FieldID, rec.ID)
	return rec, nil
}

// DropColumn backs up then drops a column for a removed field (spec
// §4.4 operation 2). Fails with ErrFieldStillPresent if forms still
// reports the field as present.
func (e *Engine) DropColumn(ctx context.Context, actor rbac.Actor, formID string, op Operation) (*Record, error) {
	if err := e.authorize(actor, rbac.OpApply); err != nil {
		return nil, err
	}

	if e.forms != nil {
		if _, present, err := e.forms.FieldByID(ctx, formID, op.FieldID); err != nil {
			return nil, err
		} else if present {
			return nil, ErrFieldStillPresent
		}
	}

	rec := &Record{
		FormID: formID, FieldID: op.FieldID, Kind: DropColumn,
		Table: op.Table, Column: op.Column,
		OldValue:   descriptorJSON(op.OldLogical),
		ForwardSQL: fmt.Sprintf(`alter table %q drop column %q`, op.Table, op.Column),
		Actor:      actor.ID, CreatedAt: e.now(),
	}

	backupRec, err := e.backups.Snapshot(ctx, e.now(), formID, op.Table, op.Column, backup.KindAutoDelete)
	if err != nil {
		rec.ErrorMessage = err.Error()
		_ = e.history.appendFailure(ctx, rec)
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}
	rec.BackupRef = backupRec.ID

	pt := PhysicalTypeFor(op.OldLogical)

	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.driver.DropColumnTx(ctx, tx, op.Table, op.Column); err != nil {
		tx.Rollback()
		rec.ErrorMessage = err.Error()
		if herr := e.history.appendFailure(ctx, rec); herr != nil {
			return nil, herr
		}
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}

	rec.RollbackSQL = fmt.Sprintf(`alter table %q add column %q %s`, op.Table, op.Column, pt.SQL)
	rec.Success = true
	if err := e.commitWithHistory(ctx, tx, rec); err != nil {
		return nil, err
	}
	e.sink.MigrationCompleted(ctx, "", formID, op.FieldID, rec.ID)
	return rec, nil
}

// RenameColumn renames a column for a relabeled field (spec §4.4
// operation 3). Never requires a backup: no data is ever at risk of
// loss from a rename, only from drop and (unsafely cast) modify.
func (e *Engine) RenameColumn(ctx context.Context, actor rbac.Actor, formID string, op Operation) (*Record, error) {
	if err := e.authorize(actor, rbac.OpApply); err != nil {
		return nil, err
	}

	rec := &Record{
		FormID: formID, FieldID: op.FieldID, Kind: RenameColumn,
		Table: op.Table, Column: op.Column, OldValue: op.OldColumn,
		ForwardSQL: fmt.Sprintf(`alter table %q rename column %q to %q`, op.Table, op.OldColumn, op.Column),
		Actor:      actor.ID, CreatedAt: e.now(),
	}

	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.driver.RenameColumnTx(ctx, tx, op.Table, op.OldColumn, op.Column); err != nil {
		tx.Rollback()
		rec.ErrorMessage = err.Error()
		if herr := e.history.appendFailure(ctx, rec); herr != nil {
			return nil, herr
		}
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}

	rec.RollbackSQL = fmt.Sprintf(`alter table %q rename column %q to %q`, op.Table, op.Column, op.OldColumn)
	rec.Success = true
	if err := e.commitWithHistory(ctx, tx, rec); err != nil {
		return nil, err
	}
	e.sink.MigrationCompleted(ctx, "", formID, op.FieldID, rec.ID)
	return rec, nil
}

// ModifyColumnType validates then applies a field's logical type
// change (spec §4.4 operation 4). It always takes an AUTO_MODIFY
// backup before the rebuild, since an incompatible cast can destroy
// data the rebuild has no way to undo otherwise.
func (e *Engine) ModifyColumnType(ctx context.Context, actor rbac.Actor, formID string, op Operation) (*Record, error) {
	if err := e.authorize(actor, rbac.OpApply); err != nil {
		return nil, err
	}

	rec := &Record{
		FormID: formID, FieldID: op.FieldID, Kind: ModifyColumn,
		Table: op.Table, Column: op.Column,
		OldValue: descriptorJSON(op.OldLogical), NewValue: descriptorJSON(op.NewLogical),
		Actor: actor.ID, CreatedAt: e.now(),
	}

	rule := ConversionRule(op.OldLogical, op.NewLogical)
	if !rule.allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConversionNotAllowed, op.OldLogical, op.NewLogical)
	}

	if rule.requiresScan {
		ok, firstInvalid, err := e.driver.ScanValidate(ctx, op.Table, op.Column, rule.validate)
		if err != nil {
			return nil, err
		}
		if !ok {
			cause := fmt.Errorf("%w: value %q is not valid under %s", ErrTypeConversionFailed, firstInvalid, op.NewLogical)
			rec.ErrorMessage = cause.Error()
			if herr := e.history.appendFailure(ctx, rec); herr != nil {
				return nil, herr
			}
			e.sink.MigrationFailed(ctx, "", formID, op.FieldID, cause)
			return nil, cause
		}
	}

	backupRec, err := e.backups.Snapshot(ctx, e.now(), formID, op.Table, op.Column, backup.KindAutoModify)
	if err != nil {
		rec.ErrorMessage = err.Error()
		_ = e.history.appendFailure(ctx, rec)
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}
	rec.BackupRef = backupRec.ID

	newType := PhysicalTypeFor(op.NewLogical)
	castExpr := rule.castExpr
	if castExpr == "" {
		castExpr = "%s"
	}
	rec.ForwardSQL = fmt.Sprintf(`rebuild %q: %q %s -> %s`, op.Table, op.Column, op.OldLogical, newType.SQL)

	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.driver.ModifyColumnTypeTx(ctx, tx, op.Table, op.Column, newType, castExpr); err != nil {
		tx.Rollback()
		rec.ErrorMessage = err.Error()
		if herr := e.history.appendFailure(ctx, rec); herr != nil {
			return nil, herr
		}
		e.sink.MigrationFailed(ctx, "", formID, op.FieldID, err)
		return nil, err
	}

	rec.RollbackSQL = fmt.Sprintf(`restore %q.%q from backup %s`, op.Table, op.Column, backupRec.ID)
	rec.Success = true
	if err := e.commitWithHistory(ctx, tx, rec); err != nil {
		return nil, err
	}
	e.sink.MigrationCompleted(ctx, "", formID, op.FieldID, rec.ID)
	return rec, nil
}

// PreviewMigration returns the SQL and validity an operation would
// produce without mutating anything (spec §4.4 operation 5).
func (e *Engine) PreviewMigration(ctx context.Context, actor rbac.Actor, formID string, op Operation) (*Preview, error) {
	if err := e.authorize(actor, rbac.OpPreview); err != nil {
		return nil, err
	}

	rows, err := e.driver.RowCount(ctx, op.Table)
	if err != nil {
		rows = 0
	}

	p := &Preview{Kind: op.Kind, Column: op.Column, Valid: true, EstimatedRows: rows}

	switch op.Kind {
	case AddColumn:
		pt := PhysicalTypeFor(op.NewLogical)
		p.ForwardSQL = fmt.Sprintf(`alter table %q add column %q %s`, op.Table, op.Column, pt.SQL)
		p.RollbackSQL = fmt.Sprintf(`alter table %q drop column %q`, op.Table, op.Column)
	case DropColumn:
		p.ForwardSQL = fmt.Sprintf(`alter table %q drop column %q`, op.Table, op.Column)
		p.RequiresBackup = true
		p.Warnings = append(p.Warnings, "existing column data will be backed up before deletion")
	case RenameColumn:
		p.ForwardSQL = fmt.Sprintf(`alter table %q rename column %q to %q`, op.Table, op.OldColumn, op.Column)
		p.RollbackSQL = fmt.Sprintf(`alter table %q rename column %q to %q`, op.Table, op.Column, op.OldColumn)
	case ModifyColumn:
		newType := PhysicalTypeFor(op.NewLogical)
		p.ForwardSQL = fmt.Sprintf(`rebuild %q: %q %s -> %s`, op.Table, op.Column, op.OldLogical, newType.SQL)
		p.RequiresBackup = true
		rule := ConversionRule(op.OldLogical, op.NewLogical)
		if !rule.allowed {
			p.Valid = false
			p.Warnings = append(p.Warnings, fmt.Sprintf("conversion from %s to %s is not supported", op.OldLogical, op.NewLogical))
			break
		}
		if rule.requiresScan {
			ok, firstInvalid, err := e.driver.ScanValidate(ctx, op.Table, op.Column, rule.validate)
			if err != nil {
				return nil, err
			}
			if !ok {
				p.Valid = false
				p.Warnings = append(p.Warnings, fmt.Sprintf("existing value %q is not valid under %s", firstInvalid, op.NewLogical))
			}
		}
	}

	return p, nil
}

// Rollback reverses a prior migration record by id (spec §4.4
// operation 6). Fails with ErrAlreadyRolledBack if id was already
// reversed once.
func (e *Engine) Rollback(ctx context.Context, actor rbac.Actor, migrationID string) (*Record, error) {
	if err := e.authorize(actor, rbac.OpRollback); err != nil {
		return nil, err
	}

	orig, err := e.history.get(ctx, migrationID)
	if err != nil {
		return nil, err
	}
	// A record that itself reverses an earlier one is a rollback;
	// rolling it back a second time is disallowed outright (spec §4.4
	// "Rollbacks of rollbacks are disallowed", §8 invariant 6), distinct
	// from ErrAlreadyRolledBack below which guards the forward record.
	if orig.RollsBack != "" {
		return nil, ErrAlreadyRolledBack
	}
	if already, err := e.history.wasRolledBack(ctx, migrationID); err != nil {
		return nil, err
	} else if already {
		return nil, ErrAlreadyRolledBack
	}

	rec := &Record{
		FormID: orig.FormID, FieldID: orig.FieldID, Kind: orig.Kind,
		Table: orig.Table, RollsBack: orig.ID, Actor: actor.ID, CreatedAt: e.now(),
	}

	switch orig.Kind {
	case AddColumn:
		rec.Column = orig.Column
		if e.forms != nil {
			if _, present, err := e.forms.FieldByID(ctx, orig.FormID, orig.FieldID); err != nil {
				return nil, err
			} else if present {
				return nil, ErrFieldStillPresent
			}
		}
		if err := e.driver.DropColumn(ctx, orig.Table, orig.Column); err != nil {
			return e.failRollback(ctx, rec, err)
		}
	case DropColumn:
		rec.Column = orig.Column
		if orig.BackupRef == "" {
			return e.failRollback(ctx, rec, fmt.Errorf("%w: no backup recorded for %s", ErrMigrationNotFound, orig.ID))
		}
		var desc struct {
			Logical LogicalType `json:"logical"`
		}
		_ = json.Unmarshal([]byte(orig.OldValue), &desc)
		pt := PhysicalTypeFor(desc.Logical)
		if err := e.driver.AddColumn(ctx, orig.Table, orig.Column, pt); err != nil {
			return e.failRollback(ctx, rec, err)
		}
		if _, err := e.backups.Restore(ctx, e.now(), orig.BackupRef); err != nil {
			return e.failRollback(ctx, rec, err)
		}
	case RenameColumn:
		rec.Column = orig.OldValue
		if err := e.driver.RenameColumn(ctx, orig.Table, orig.Column, orig.OldValue); err != nil {
			return e.failRollback(ctx, rec, err)
		}
	case ModifyColumn:
		rec.Column = orig.Column
		if orig.BackupRef == "" {
			return e.failRollback(ctx, rec, fmt.Errorf("%w: no backup recorded for %s", ErrMigrationNotFound, orig.ID))
		}
		var desc struct {
			Logical LogicalType `json:"logical"`
		}
		_ = json.Unmarshal([]byte(orig.OldValue), &desc)
		oldType := PhysicalTypeFor(desc.Logical)
		if err := e.driver.ModifyColumnType(ctx, orig.Table, orig.Column, oldType, "%s"); err != nil {
			return e.failRollback(ctx, rec, err)
		}
		if _, err := e.backups.Restore(ctx, e.now(), orig.BackupRef); err != nil {
			return e.failRollback(ctx, rec, err)
		}
	}

	rec.Success = true
	if err := e.appendInOwnTx(ctx, rec); err != nil {
		return nil, err
	}
	e.sink.MigrationCompleted(ctx, "", orig.FormID, orig.FieldID, rec.ID)
	return rec, nil
}

func (e *Engine) failRollback(ctx context.Context, rec *Record, cause error) (*Record, error) {
	rec.ErrorMessage = cause.Error()
	_ = e.history.appendFailure(ctx, rec)
	e.sink.MigrationFailed(ctx, "", rec.FormID, rec.FieldID, cause)
	return nil, cause
}

// History returns formID's migration records, oldest first, windowed
// to page (spec §6: "history | formId, paging").
func (e *Engine) History(ctx context.Context, actor rbac.Actor, formID string, page pagination.Page) ([]*Record, error) {
	if err := e.authorize(actor, rbac.OpHistory); err != nil {
		return nil, err
	}
	return e.history.list(ctx, formID, page)
}

// commitWithHistory appends rec to history using tx — the same
// transaction the triggering DDL just ran in — and commits both
// together, so a crash between the DDL and the history append can
// never happen (spec §5: "the Engine opens one transaction per
// migration that wraps DDL + history append"). Callers must have
// already run the DDL against tx without committing it.
func (e *Engine) commitWithHistory(ctx context.Context, tx *sql.Tx, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := e.history.appendTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// appendInOwnTx appends a successful record in its own transaction,
// for Rollback: a rollback's DDL may be followed by a data restore that
// itself depends on the DDL already being visible to other
// connections, so rollback's DDL and history append cannot share one
// transaction the way the four forward operations' do.
func (e *Engine) appendInOwnTx(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx, err := e.driver.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.history.appendTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}
