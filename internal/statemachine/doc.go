// Package statemachine provides the generic per-subsystem state machine.
//
// Each hardware-facing subsystem (motion, sensing) declares a closed set of
// states and the legal edges between them, then owns a Machine instance.
// Transitions happen under the machine's own lock and every change is
// published on the bus as "{subsystem}/state", so external readers observe
// state through events (or a getter taking the same lock) rather than a
// cached copy assumed fresh.
//
// The error state is reachable from every state. Leaving it requires the
// owning subsystem's explicit resetErrors flow, which re-verifies hardware
// readiness before the machine is allowed back to idle.
package statemachine
