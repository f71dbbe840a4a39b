package migration

import "errors"

var (
	// ErrFieldStillPresent is returned when dropping a column whose
	// field descriptor is still present in the caller's current form
	// definition (spec §4.4 edge case).
	ErrFieldStillPresent = errors.New("migration: field still present in current form definition")

	// ErrAlreadyRolledBack is returned when Rollback targets a record
	// that a prior rollback already reversed, or a record that is itself
	// a rollback.
	ErrAlreadyRolledBack = errors.New("migration: migration already rolled back")

	// ErrTypeConversionFailed is returned when a type change's
	// validation scan finds a value the target type cannot represent.
	ErrTypeConversionFailed = errors.New("migration: existing data is not valid under the target type")

	// ErrConversionNotAllowed is returned when the requested logical
	// type pair has no entry in the conversion matrix.
	ErrConversionNotAllowed = errors.New("migration: conversion between these field types is not supported")

	// ErrMigrationNotFound is returned when a history id does not
	// resolve to any record.
	ErrMigrationNotFound = errors.New("migration: migration record not found")

	// ErrUnauthorized is returned when the calling actor's role does
	// not permit the requested operation (spec §6).
	ErrUnauthorized = errors.New("migration: actor is not authorized for this operation")
)
