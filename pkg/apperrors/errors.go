package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidTableID   = errors.New("invalid table identifier: expected catalog.schema.table")
	ErrAxisBusy         = errors.New("status axis already in progress")
	ErrAxisNotEligible  = errors.New("status axis not eligible for processing")
	ErrUnknownWarehouse = errors.New("unknown warehouse type")
)
