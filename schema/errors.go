package schema

import "errors"

// Error taxonomy from spec §4.2 / §7. All are sentinel values; callers
// use errors.Is against these, and the migration engine wraps them
// with %w to preserve the chain while adding context.
var (
	// ErrInvalidIdentifier is raised before any SQL is issued whenever
	// a table or column name fails ident.Validate.
	ErrInvalidIdentifier = errors.New("schema: invalid identifier")

	// ErrColumnExists is the precondition failure for addColumn.
	ErrColumnExists = errors.New("schema: column already exists")

	// ErrColumnMissing is the precondition failure for dropColumn,
	// renameColumn (old column) and modifyColumnType.
	ErrColumnMissing = errors.New("schema: column does not exist")

	// ErrTypeConversion means the requested type change cannot be
	// represented losslessly per the matrix in spec §4.4; see
	// migration.ErrTypeConversionFailed for the Engine-level variant
	// that also records a failed migration.
	ErrTypeConversion = errors.New("schema: type conversion not supported")

	// ErrConnectionLost and ErrDeadlock are transient infrastructure
	// errors (spec §7): the queue retries on these with backoff.
	ErrConnectionLost = errors.New("schema: connection lost")
	ErrDeadlock       = errors.New("schema: deadlock or lock contention")

	// ErrPermissionDenied is a permanent infrastructure error: never
	// retried.
	ErrPermissionDenied = errors.New("schema: permission denied")
)
