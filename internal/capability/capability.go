package capability

import "context"

// Motion is the manipulator surface the core drives. Implemented by vendor
// motion drivers outside the core.
//
// All blocking calls take a context; implementations must honour
// cancellation where the controller protocol allows it. Stop is the
// emergency-stop primitive and must be callable safely from any goroutine
// at any time, including while another command is in flight.
type Motion interface {
	// MoveLinear moves the tool centre point to pose along a straight
	// line at speed (mm/s), blocking until the move completes.
	MoveLinear(ctx context.Context, pose Pose, speed float64) error

	// MoveJoint moves to the given joint angles (degrees) at speed.
	MoveJoint(ctx context.Context, angles []float64, speed float64) error

	// Jog steps one axis by step millimetres (or degrees) in direction.
	Jog(ctx context.Context, axis Axis, direction Direction, step float64) error

	// GetPose returns the current tool centre point pose.
	GetPose(ctx context.Context) (Pose, error)

	// SetDigitalOutput drives a controller digital output.
	SetDigitalOutput(ctx context.Context, index int, value bool) error

	// GetDigitalInput reads a controller digital input.
	GetDigitalInput(ctx context.Context, index int) (bool, error)

	// Enable powers the drives; Disable releases them.
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error

	// Stop aborts motion immediately. Emergency-stop primitive.
	Stop(ctx context.Context) error
}

// Sensing is the machine-vision surface. Capture blocks and is internally
// timeout-bounded; repeated failure drives the sensing subsystem to its
// error state.
type Sensing interface {
	// Capture acquires one frame and returns the detected contours in the
	// robot base frame.
	Capture(ctx context.Context) (*Capture, error)

	// Calibrate runs the requested calibration routine.
	Calibrate(ctx context.Context, kind CalibrationKind) (*CalibrationResult, error)
}

// Tooling is the end-effector peripherals surface: glue valves, vacuum
// gripper, tool changer, and the laser height sensor.
type Tooling interface {
	// SetFlow opens or closes a glue valve.
	SetFlow(ctx context.Context, valveID int, on bool) error

	// EngageVacuum grips; ReleaseVacuum lets go; HasVacuum reports whether
	// a workpiece is currently held.
	EngageVacuum(ctx context.Context) error
	ReleaseVacuum(ctx context.Context) error
	HasVacuum(ctx context.Context) (bool, error)

	// PickupTool and ReturnTool operate the tool changer. The core never
	// issues motion while a tool change is in progress.
	PickupTool(ctx context.Context, slot int) error
	ReturnTool(ctx context.Context, slot int) error

	// GetHeight reads the laser height sensor, millimetres.
	GetHeight(ctx context.Context) (float64, error)
}
