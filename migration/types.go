// Package migration plans, validates, previews and applies individual
// schema changes against a form's dynamic table, writes an
// append-only history, and supports rollback. It is the component
// spec.md calls the hardest engineering locus of the system.
package migration

import "time"

// LogicalType is one of the 17 field types a form field can declare
// (spec §3). The set is closed; implementers must reproduce it
// exactly.
type LogicalType string

const (
	ShortAnswer    LogicalType = "short_answer"
	Paragraph      LogicalType = "paragraph"
	Email          LogicalType = "email"
	Phone          LogicalType = "phone"
	Number         LogicalType = "number"
	URL            LogicalType = "url"
	FileUpload     LogicalType = "file_upload"
	ImageUpload    LogicalType = "image_upload"
	Date           LogicalType = "date"
	Time           LogicalType = "time"
	DateTime       LogicalType = "datetime"
	MultipleChoice LogicalType = "multiple_choice"
	Rating         LogicalType = "rating"
	Slider         LogicalType = "slider"
	LatLong        LogicalType = "lat_long"
	Province       LogicalType = "province"
	Factory        LogicalType = "factory"
	// Unknown is the fallback logical type for values outside the
	// closed set (spec §3 "unknown/fallback").
	Unknown LogicalType = "unknown"
)

// Field is the input descriptor the form-builder collaborator
// supplies to the engine (spec §3 "Field descriptor").
type Field struct {
	ID           string
	Title        string
	Logical      LogicalType
	DisplayOrder int
}

// OperationKind is one of the four primitive DDL operation kinds (spec
// §3 "Migration record").
type OperationKind string

const (
	AddColumn    OperationKind = "ADD_COLUMN"
	DropColumn   OperationKind = "DROP_COLUMN"
	RenameColumn OperationKind = "RENAME_COLUMN"
	ModifyColumn OperationKind = "MODIFY_COLUMN"
)

// Operation is one planned change in a change-detection plan (spec
// §4.4 "change detection").
type Operation struct {
	Kind         OperationKind
	FieldID      string
	Table        string
	Column       string // target/new column name
	OldColumn    string // populated for RENAME and MODIFY
	OldLogical   LogicalType
	NewLogical   LogicalType
	DisplayOrder int
}

// Record is the persisted, immutable migration record (spec §3). Once
// appended it is never mutated; a rollback produces a new Record.
type Record struct {
	ID           string
	FormID       string
	FieldID      string
	Kind         OperationKind
	Table        string
	Column       string
	OldValue     string // JSON-encoded descriptor, may be empty
	NewValue     string // JSON-encoded descriptor, may be empty
	ForwardSQL   string
	RollbackSQL  string // empty if no rollback is possible
	Success      bool
	ErrorMessage string
	BackupRef    string // backup record id, empty if none was taken
	RollsBack    string // id of the migration this record reverses, empty otherwise
	Actor        string
	CreatedAt    time.Time
}

// Preview is the pure result previewMigration returns: SQL, warnings
// and validity, without any state mutation (spec §4.4 operation 5).
type Preview struct {
	Kind           OperationKind
	Column         string
	ForwardSQL     string
	RollbackSQL    string
	Valid          bool
	RequiresBackup bool
	EstimatedRows  int
	Warnings       []string
}
