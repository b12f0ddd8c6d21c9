// Package sensing owns the machine-vision subsystem: capture acquisition
// with bounded retries, calibration, and the subsystem state machine.
//
// Capture and calibration block the caller but run on the subsystem's own
// worker goroutine, so the camera driver only ever sees one request at a
// time. Repeated capture failure drives the subsystem to its error state;
// leaving it requires ResetErrors, which proves readiness with a probe
// capture.
package sensing
