package backup

import "errors"

// Error taxonomy from spec §4.3 / §7.
var (
	ErrBackupExpired = errors.New("backup: expired")
	ErrBackupNotFound = errors.New("backup: not found")
	// ErrColumnMissing mirrors schema.ErrColumnMissing: a restore
	// target whose column has been dropped since the snapshot was
	// taken. Kept as a distinct sentinel (rather than re-exporting
	// schema's) so callers of this package never need to import
	// schema just to check an error.
	ErrColumnMissing = errors.New("backup: target column no longer exists")
)
