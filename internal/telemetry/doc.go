// Package telemetry connects the in-process topic bus to the outside world.
//
// It provides two independent components:
//
//   - Bridge republishes selected bus events to MQTT and executes commands
//     received over MQTT through the request router, so external tooling
//     (HMIs, line controllers) can observe and drive the cell without a
//     direct process link.
//   - Stats records completed cycle reports to InfluxDB for long-term
//     throughput and quality dashboards.
//
// Both components are optional. The cell core runs unchanged when MQTT or
// InfluxDB is disabled in configuration; nothing inside the orchestrator or
// the subsystem services knows these components exist.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Bus handlers run on the
// publisher's goroutine and only marshal and hand off; MQTT command handlers
// dispatch on their own goroutine because commands such as cycle start block
// until the cycle finishes.
package telemetry
