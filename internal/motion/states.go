package motion

import "github.com/plrobotics/dispense-core/internal/statemachine"

// State is the motion subsystem's closed state set.
type State string

// Motion states.
const (
	StateInitializing              State = "initializing"
	StateIdle                      State = "idle"
	StateStarting                  State = "starting"
	StateMovingToFirstPoint        State = "moving_to_first_point"
	StateExecutingPath             State = "executing_path"
	StateTransitioningBetweenPaths State = "transitioning_between_paths"
	StateError                     State = "error"
)

// edges declares the legal transitions. StateError is reachable from every
// state implicitly; its only outgoing edge is the reset back to idle.
var edges = map[State][]State{
	StateInitializing:              {StateIdle},
	StateIdle:                      {StateStarting},
	StateStarting:                  {StateMovingToFirstPoint, StateIdle},
	StateMovingToFirstPoint:        {StateExecutingPath, StateTransitioningBetweenPaths, StateIdle},
	StateExecutingPath:             {StateTransitioningBetweenPaths, StateIdle},
	StateTransitioningBetweenPaths: {StateMovingToFirstPoint, StateIdle},
	StateError:                     {StateIdle},
}

// newMachine builds the motion state machine publishing on "motion/state".
func newMachine(pub statemachine.Publisher) *statemachine.Machine[State] {
	return statemachine.New("motion", StateInitializing, StateError, edges, pub)
}
