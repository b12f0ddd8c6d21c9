// Package router parses external command strings into typed requests and
// dispatches them to the orchestrator, the subsystem services, and the
// workpiece repository.
//
// A request path is slash-delimited: the first segment names the resource
// (robot, workpiece, vision, settings, operations), the second the action,
// and the rest are positional arguments ("robot/jog/x/plus/10"). Payload
// parameters arrive as JSON alongside the path and are normalised once at
// this boundary; downstream code never re-interprets raw maps.
//
// Every dispatch returns a uniform Envelope. Handler errors and panics are
// captured into ERROR envelopes, so a malformed request can never take
// down the dispatching goroutine.
package router
