// Package motion owns the manipulator subsystem: its state machine, its
// dedicated command worker, and error recovery.
//
// All hardware I/O runs on one worker goroutine so commands serialise at
// the driver; callers wait synchronously with a timeout and never touch the
// controller from their own goroutine. The one exception is EmergencyStop,
// which calls the capability's stop primitive directly — it must work even
// while the worker is blocked mid-move.
//
// A communication loss drives the subsystem to its error state, which is
// terminal until ResetErrors re-verifies hardware readiness.
package motion
