package repository

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrDuplicate        = errors.New("duplicate record")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
