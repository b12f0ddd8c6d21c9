package motion

import "errors"

var (
	// ErrCommandTimeout is returned when the command worker does not
	// complete a hardware command within the configured timeout. The
	// command is not retried: the link state is unknown and the command
	// may not be idempotent.
	ErrCommandTimeout = errors.New("motion: command timed out")

	// ErrBusy is returned when the command queue is full; the caller
	// should surface SubsystemBusy rather than wait.
	ErrBusy = errors.New("motion: subsystem busy")

	// ErrNotRunning is returned when a command is issued before Start or
	// after Stop.
	ErrNotRunning = errors.New("motion: service not running")

	// ErrFaulted is returned when a hardware-affecting command is issued
	// while the subsystem is in its error state.
	ErrFaulted = errors.New("motion: subsystem in error state")
)
