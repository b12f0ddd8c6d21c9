package statemachine

import "errors"

var (
	// ErrInvalidTransition is returned when a transition is not declared
	// in the machine's edge table.
	ErrInvalidTransition = errors.New("statemachine: invalid transition")

	// ErrRecoveryFailed is returned by a subsystem's resetErrors when the
	// hardware readiness check fails; the machine stays in the error state.
	ErrRecoveryFailed = errors.New("statemachine: hardware recovery failed")
)
