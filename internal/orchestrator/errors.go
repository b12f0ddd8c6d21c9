package orchestrator

import "errors"

var (
	// ErrCycleAlreadyRunning is returned by Start while a cycle context
	// exists, including a paused one.
	ErrCycleAlreadyRunning = errors.New("a dispensing cycle is already running")

	// ErrNoActiveCycle is returned by pause, resume, and stop when no
	// cycle context exists.
	ErrNoActiveCycle = errors.New("no active dispensing cycle")

	// ErrCycleStopped reports that a cycle was cancelled by a stop or
	// emergency stop request before it completed.
	ErrCycleStopped = errors.New("cycle stopped by operator")

	// ErrNotPaused is returned by resume when the cycle is running
	// normally.
	ErrNotPaused = errors.New("cycle is not paused")

	// ErrSubsystemNotReady is returned when an operation needs idle,
	// healthy subsystems and at least one is faulted, busy, or still
	// initialising.
	ErrSubsystemNotReady = errors.New("subsystem not ready")

	// ErrNoWorkpieces reports a capture that yielded no dispensable
	// contours, either because nothing was detected or because nothing
	// matched a known workpiece.
	ErrNoWorkpieces = errors.New("no workpieces to dispense")
)
