package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/pathgen"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// StartOptions select the behaviour of one cycle.
type StartOptions struct {
	// MatchMode scores detected contours against stored workpieces and
	// dispenses with each match's own glue settings. When false, every
	// detected contour is dispensed with the cell's default settings.
	MatchMode bool `json:"match_mode"`

	// Nesting rearranges matched parts into the work area before
	// dispensing. Only applies when more than one part matched.
	Nesting bool `json:"nesting"`

	// Debug keeps the capture frame in the cycle report payloads.
	Debug bool `json:"debug"`
}

// cycleContext is the ephemeral record of one capture-to-dispense run. It
// is created by Start, mutated only by the cycle goroutine, and destroyed
// when the cycle ends. The pause and cancel flags are the exception: they
// are set by concurrent pause/stop requests and polled by the cycle
// goroutine at waypoint boundaries.
type cycleContext struct {
	id        string
	opts      StartOptions
	startedAt time.Time

	paused    atomic.Bool
	cancelled atomic.Bool

	capture    *capability.Capture
	matches    []workpiece.Match
	placements []nesting.Placement
	paths      []*pathgen.Path

	dispensed int
	waypoints int
}

func newCycleContext(opts StartOptions) *cycleContext {
	return &cycleContext{
		id:        uuid.NewString(),
		opts:      opts,
		startedAt: time.Now().UTC(),
	}
}
