// Package tooling owns the end-effector peripherals: glue valves, the
// vacuum gripper, the tool changer, and the laser height sensor.
//
// The service tracks which valves are open so the orchestrator can cut all
// flow in one call on any failure path — no error path may leave a valve
// dispensing. A background poller publishes "tooling/telemetry" with the
// height reading and vacuum state; it consumes only tooling hardware, so
// no lock is shared with the sensing capture loop.
package tooling
