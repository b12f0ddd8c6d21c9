package orchestrator

import "time"

// ApplicationState is the cell-level state derived from the subsystem
// states and cycle activity. It is never stored independently: every
// subsystem transition recomputes it from scratch, so it cannot drift.
type ApplicationState string

// Application states.
const (
	StateInitializing ApplicationState = "initializing"
	StateIdle         ApplicationState = "idle"
	StateStarted      ApplicationState = "started"
	StateError        ApplicationState = "error"
)

// Bus topics published by the orchestrator.
const (
	// TopicApplicationState carries StateEvent payloads on every derived
	// application state change.
	TopicApplicationState = "application/state"

	// TopicTrajectoryStart announces each workpiece path just before
	// execution, with a TrajectoryStart payload.
	TopicTrajectoryStart = "motion/trajectory/start"

	// TopicTrajectoryImage carries the capture frame the running cycle is
	// dispensing against, with a TrajectoryImage payload.
	TopicTrajectoryImage = "motion/trajectory/image"

	// TopicCycleCompleted carries one Report per finished cycle,
	// successful or not.
	TopicCycleCompleted = "cycle/completed"

	// TopicStateQuery answers bus requests with the current StateEvent.
	// TopicApplicationState only fires on transitions; late joiners
	// request the present state here. Previous is empty on responses.
	TopicStateQuery = "application/state/get"
)

// StateEvent is the payload on TopicApplicationState.
type StateEvent struct {
	State    ApplicationState `json:"state"`
	Previous ApplicationState `json:"previous"`
	At       time.Time        `json:"at"`
}

// TrajectoryStart is the payload on TopicTrajectoryStart.
type TrajectoryStart struct {
	CycleID       string `json:"cycle_id"`
	WorkpieceID   string `json:"workpiece_id"`
	WorkpieceName string `json:"workpiece_name"`
	Index         int    `json:"index"`
	Total         int    `json:"total"`
}

// TrajectoryImage is the payload on TopicTrajectoryImage.
type TrajectoryImage struct {
	CycleID  string    `json:"cycle_id"`
	Image    []byte    `json:"image"`
	Contours int       `json:"contours"`
	At       time.Time `json:"at"`
}

// Report is the payload on TopicCycleCompleted. One report is published
// per cycle regardless of outcome, so downstream consumers see aborted
// cycles too.
type Report struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Detected   int           `json:"detected"`
	Matched    int           `json:"matched"`
	Dispensed  int           `json:"dispensed"`
	Waypoints  int           `json:"waypoints"`
	Nested     bool          `json:"nested"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}
