package capability

import "errors"

// Hardware error taxonomy. Capability implementations wrap their vendor
// errors with one of these sentinels so the core can classify failures with
// errors.Is without knowing the driver.
var (
	// ErrCommunication indicates the hardware link is lost. Bounded
	// retries with backoff happen inside the capability layer; by the time
	// the core sees this error, retries are exhausted and the fault is
	// real.
	ErrCommunication = errors.New("capability: communication lost")

	// ErrMotionRejected indicates the controller refused a motion command
	// (workspace violation, joint limit). Fatal only to the current
	// workpiece, not necessarily to the cycle.
	ErrMotionRejected = errors.New("capability: motion rejected")

	// ErrCaptureFailed indicates the sensing pipeline could not produce a
	// usable capture. Cycle-fatal: there is no safe default image.
	ErrCaptureFailed = errors.New("capability: capture failed")

	// ErrToolUnavailable indicates a tool-changer slot is empty or the
	// requested tool failed to seat.
	ErrToolUnavailable = errors.New("capability: tool unavailable")
)
