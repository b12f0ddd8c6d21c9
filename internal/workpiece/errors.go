package workpiece

import "errors"

var (
	// ErrNotFound is returned when a workpiece ID does not exist.
	ErrNotFound = errors.New("workpiece: not found")

	// ErrInvalid is returned when a workpiece fails validation.
	ErrInvalid = errors.New("workpiece: invalid")
)
