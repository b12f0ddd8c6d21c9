// Package pathgen turns a matched workpiece into the ordered waypoint path
// the motion subsystem executes: an approach above the bead start, the bead
// itself at the workpiece's glue speed, and a lift-off after the last
// point. Flow is enabled by the orchestrator only once the nozzle is in
// position at the first bead waypoint, and disabled at the last — pathgen
// itself never touches hardware.
package pathgen

import (
	"errors"
	"fmt"

	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// ErrEmptyContour is returned when a workpiece has no bead geometry.
var ErrEmptyContour = errors.New("pathgen: empty contour")

// Options tune path generation for the whole cell.
type Options struct {
	// Clearance is the travel height above the bead, mm. Approach and
	// lift-off waypoints sit this far above the part.
	Clearance float64

	// TravelSpeed is the flow-off move speed, mm/s.
	TravelSpeed float64
}

// Waypoint is one bead point with its segment traversal speed. Pause and
// stop take effect at waypoint boundaries, so waypoint spacing bounds the
// cell's pause latency.
type Waypoint struct {
	Pose  capability.Pose `json:"pose"`
	Speed float64         `json:"speed"`
}

// Path is the executable plan for one workpiece.
type Path struct {
	WorkpieceID   string `json:"workpiece_id"`
	WorkpieceName string `json:"workpiece_name"`
	ValveID       int    `json:"valve_id"`

	// Approach is the flow-off position above the first bead point.
	Approach capability.Pose `json:"approach"`

	// Waypoints are the bead points, traversed with flow on. The first
	// waypoint is the descent to bead height at the start point.
	Waypoints []Waypoint `json:"waypoints"`

	// Retract is the flow-off lift above the last bead point.
	Retract capability.Pose `json:"retract"`

	// Pickup, when set, is where the vacuum gripper grips the part before
	// dispensing (pick-and-place mode).
	Pickup *capability.Point `json:"pickup,omitempty"`
}

// Generate builds the path for a workpiece whose bead follows contour.
// The contour is the detected (and possibly nested) geometry, not the
// stored one — it carries the part's actual table position.
func Generate(wp workpiece.Workpiece, contour capability.Contour, opts Options) (*Path, error) {
	if len(contour) == 0 {
		return nil, fmt.Errorf("%w: workpiece %q", ErrEmptyContour, wp.Name)
	}
	if opts.Clearance <= 0 {
		opts.Clearance = 30
	}
	if opts.TravelSpeed <= 0 {
		opts.TravelSpeed = 200
	}

	bead := wp.Glue.BeadHeight
	speed := wp.Glue.Speed

	at := func(p capability.Point, z float64) capability.Pose {
		return capability.Pose{X: p.X, Y: p.Y, Z: z}
	}

	waypoints := make([]Waypoint, 0, len(contour)+1)
	for _, p := range contour {
		waypoints = append(waypoints, Waypoint{Pose: at(p, bead), Speed: speed})
	}
	// Close the bead back to its start point.
	waypoints = append(waypoints, Waypoint{Pose: at(contour[0], bead), Speed: speed})

	return &Path{
		WorkpieceID:   wp.ID,
		WorkpieceName: wp.Name,
		ValveID:       wp.Glue.ValveID,
		Approach:      at(contour[0], bead+opts.Clearance),
		Waypoints:     waypoints,
		Retract:       at(contour[0], bead+opts.Clearance),
		Pickup:        wp.PickupPoint,
	}, nil
}
