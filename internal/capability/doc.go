// Package capability defines the hardware-facing interfaces the core calls
// to perform physical work, together with the geometry types and error
// taxonomy shared across them.
//
// Concrete implementations are owned by external drivers (vendor motion
// controllers, camera pipelines, field-bus tooling I/O) and injected at
// startup. The fake subpackage provides scripted in-memory implementations
// for tests and hardware-less bring-up.
//
// Implementations must distinguish a lost hardware link (ErrCommunication)
// from a command the hardware refused (ErrMotionRejected), so the
// orchestrator can choose between abort and skip-to-next-workpiece.
package capability
