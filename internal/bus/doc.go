// Package bus provides the in-process topic bus that decouples the
// dispensing cell's subsystems.
//
// The bus offers two primitives:
//
//   - Publish: fire-and-forget delivery to every live subscriber of a
//     topic, synchronously, in subscription order.
//   - Request: synchronous request/response — the first subscriber that
//     returns a non-nil result answers; the caller blocks until a response
//     arrives or the timeout elapses.
//
// Topics are hierarchical slash-delimited strings ("motion/state",
// "motion/trajectory/start"). Payloads are opaque to the bus; no schema is
// enforced. There is no persistence and no cross-process transport — the
// bus is volatile and single-node. Telemetry that must leave the process is
// re-published to MQTT by internal/telemetry.
//
// Handlers are never invoked while the bus holds its internal lock, so a
// handler may safely re-enter the bus (subscribe, publish, or request)
// without deadlocking.
package bus
