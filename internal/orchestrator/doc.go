// Package orchestrator sequences a full dispensing cycle — capture, match,
// nest, path generation, execution — while staying responsive to pause,
// resume, stop, and emergency stop issued concurrently with a running
// cycle.
//
// The orchestrator owns two pieces of exclusive state: the derived
// application state (a pure fold over the latest subsystem states plus
// cycle activity) and the cycle context, the ephemeral record of one
// capture-to-dispense run. At most one cycle context exists at a time;
// start refuses rather than queues. It never blocks on hardware from its
// own lock — hardware waits happen in the subsystem services' workers.
//
// Hardware-effect ordering is enforced here: flow is enabled only once the
// nozzle is in position, pause and stop take effect at waypoint boundaries
// so no bead is cut mid-segment, and every error path runs a best-effort
// safe-state teardown (flow off first, retract only if motion is still
// responsive) before the failure propagates.
package orchestrator
