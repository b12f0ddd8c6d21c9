package workpiece

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// GlueSettings are the per-workpiece dispensing parameters.
type GlueSettings struct {
	// ValveID selects which glue valve dispenses this workpiece.
	ValveID int `json:"valve_id"`

	// Speed is the bead traversal speed, mm/s.
	Speed float64 `json:"speed"`

	// FlowRate is the reservoir pump rate, ml/min.
	FlowRate float64 `json:"flow_rate"`

	// BeadHeight is the nozzle height above the part while dispensing, mm.
	BeadHeight float64 `json:"bead_height"`
}

// Workpiece is one known part: its stored contour in the robot base frame
// and the glue parameters to dispense along it.
type Workpiece struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Contour capability.Contour `json:"contour"`
	Glue    GlueSettings       `json:"glue"`

	// PickupPoint, when set, marks the vacuum gripper grip position for
	// pick-and-place before dispensing.
	PickupPoint *capability.Point `json:"pickup_point,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateID creates a new UUID for a workpiece.
func GenerateID() string {
	return uuid.New().String()
}

// Validate checks the workpiece is storable: a name, a closed contour of at
// least three points, and a positive traversal speed.
func Validate(wp *Workpiece) error {
	if wp == nil {
		return fmt.Errorf("%w: nil workpiece", ErrInvalid)
	}
	if wp.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(wp.Contour) < 3 {
		return fmt.Errorf("%w: contour needs at least 3 points, got %d", ErrInvalid, len(wp.Contour))
	}
	if wp.Glue.Speed <= 0 {
		return fmt.Errorf("%w: glue speed must be positive", ErrInvalid)
	}
	return nil
}
