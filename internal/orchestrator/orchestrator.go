package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/sensing"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// Logger is the minimal logging surface the orchestrator needs. The
// infrastructure logging package satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus is the messaging surface the orchestrator needs.
type Bus interface {
	Publish(topic string, msg any)
	Subscribe(topic string, handler bus.Handler) (*bus.Subscription, error)
}

const (
	defaultCleanPulse   = time.Second
	defaultPollInterval = 20 * time.Millisecond
	defaultTravelSpeed  = 200
	defaultClearance    = 30
)

// Config carries the cell geometry and cycle defaults.
type Config struct {
	// CapturePose is the park position clear of the camera's view. The
	// nozzle returns here after a completed cycle.
	CapturePose capability.Pose

	// CleanPose positions the nozzle over the cleaning station.
	CleanPose capability.Pose

	// CleanValveID is the valve pulsed during nozzle cleaning.
	CleanValveID int

	// CleanPulse is how long glue is purged during nozzle cleaning.
	CleanPulse time.Duration

	// TravelSpeed is the flow-off move speed, mm/s.
	TravelSpeed float64

	// Clearance is the travel height above the bead, mm.
	Clearance float64

	// PickupZ is the vacuum gripper's grip height, mm.
	PickupZ float64

	// WorkArea bounds nested part placement.
	WorkArea nesting.Bounds

	// NestingMargin is the spacing kept between nested parts, mm.
	NestingMargin float64

	// DefaultGlue is applied to unmatched-mode contours.
	DefaultGlue workpiece.GlueSettings

	// PollInterval is how often a paused cycle rechecks its flags.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.CleanPulse <= 0 {
		c.CleanPulse = defaultCleanPulse
	}
	if c.TravelSpeed <= 0 {
		c.TravelSpeed = defaultTravelSpeed
	}
	if c.Clearance <= 0 {
		c.Clearance = defaultClearance
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Orchestrator coordinates the subsystem services through one dispensing
// cycle at a time and derives the cell-level application state.
type Orchestrator struct {
	cfg     Config
	bus     Bus
	motion  *motion.Service
	sensing *sensing.Service
	tooling *tooling.Service
	repo    workpiece.Repository
	matcher *workpiece.Matcher
	logger  Logger

	mu    sync.Mutex // guards state and cycle
	state ApplicationState
	cycle *cycleContext
}

// New wires the orchestrator to its subsystems and subscribes to their
// state topics so the application state tracks every transition.
func New(cfg Config, b Bus, m *motion.Service, s *sensing.Service, t *tooling.Service, repo workpiece.Repository, matcher *workpiece.Matcher) (*Orchestrator, error) {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		bus:     b,
		motion:  m,
		sensing: s,
		tooling: t,
		repo:    repo,
		matcher: matcher,
		logger:  noopLogger{},
		state:   StateInitializing,
	}
	for _, topic := range []string{"motion/state", "sensing/state"} {
		if _, err := b.Subscribe(topic, func(any) any {
			o.recompute()
			return nil
		}); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	if _, err := b.Subscribe(TopicStateQuery, func(any) any {
		return StateEvent{State: o.State(), At: time.Now().UTC()}
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicStateQuery, err)
	}
	return o, nil
}

// SetLogger replaces the orchestrator's logger.
func (o *Orchestrator) SetLogger(logger Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// State returns the current derived application state.
func (o *Orchestrator) State() ApplicationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// derive folds the subsystem states and cycle activity into one
// application state. Caller holds the orchestrator lock for the cycle
// field; subsystem states are read through their own locks.
func (o *Orchestrator) derive() ApplicationState {
	if o.motion.InError() || o.sensing.InError() {
		return StateError
	}
	if o.motion.State() == motion.StateInitializing || o.sensing.State() == sensing.StateInitializing {
		return StateInitializing
	}
	if o.cycle != nil {
		return StateStarted
	}
	return StateIdle
}

// recompute re-derives the application state and publishes a StateEvent if
// it changed. Called on every subsystem transition and cycle boundary.
func (o *Orchestrator) recompute() {
	o.mu.Lock()
	next := o.derive()
	prev := o.state
	if next == prev {
		o.mu.Unlock()
		return
	}
	o.state = next
	o.mu.Unlock()

	o.logger.Info("application state changed", "state", next, "previous", prev)
	o.bus.Publish(TopicApplicationState, StateEvent{
		State:    next,
		Previous: prev,
		At:       time.Now().UTC(),
	})
}

// Start runs one full dispensing cycle and blocks until it completes,
// fails, or is stopped. At most one cycle exists at a time; a second Start
// fails fast with ErrCycleAlreadyRunning rather than queueing.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) error {
	o.mu.Lock()
	if o.cycle != nil {
		o.mu.Unlock()
		return ErrCycleAlreadyRunning
	}
	if err := o.ready(); err != nil {
		o.mu.Unlock()
		return err
	}
	cyc := newCycleContext(opts)
	o.cycle = cyc
	o.mu.Unlock()
	o.recompute()

	err := o.runCycle(ctx, cyc)
	if err != nil {
		o.logger.Error("cycle failed", "cycle_id", cyc.id, "error", err)
	} else {
		o.logger.Info("cycle completed", "cycle_id", cyc.id,
			"dispensed", cyc.dispensed, "waypoints", cyc.waypoints)
	}

	o.mu.Lock()
	o.cycle = nil
	o.mu.Unlock()
	o.publishReport(cyc, err)
	o.recompute()
	return err
}

// ready verifies both stateful subsystems are idle and healthy. Caller
// holds the orchestrator lock.
func (o *Orchestrator) ready() error {
	ms, ss := o.motion.State(), o.sensing.State()
	if ms != motion.StateIdle || ss != sensing.StateIdle {
		return fmt.Errorf("%w: motion=%s sensing=%s", ErrSubsystemNotReady, ms, ss)
	}
	return nil
}

// Pause suspends the running cycle at the next waypoint boundary. Glue
// flow is cut at the boundary and restored on resume.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cycle == nil {
		return ErrNoActiveCycle
	}
	if !o.cycle.paused.CompareAndSwap(false, true) {
		return nil // already paused
	}
	o.logger.Info("cycle pause requested", "cycle_id", o.cycle.id)
	return nil
}

// Resume releases a paused cycle.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cycle == nil {
		return ErrNoActiveCycle
	}
	if !o.cycle.paused.CompareAndSwap(true, false) {
		return ErrNotPaused
	}
	o.logger.Info("cycle resumed", "cycle_id", o.cycle.id)
	return nil
}

// Stop cancels the running cycle. Flow is disabled immediately regardless
// of nozzle position; the cycle goroutine observes the flag at the next
// waypoint boundary and retracts.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	cyc := o.cycle
	o.mu.Unlock()
	if cyc == nil {
		return ErrNoActiveCycle
	}
	cyc.cancelled.Store(true)
	cyc.paused.Store(false) // unblock a paused cycle so it can wind down
	o.logger.Warn("cycle stop requested", "cycle_id", cyc.id)
	if err := o.tooling.DisableAllFlow(ctx); err != nil && !errors.Is(err, tooling.ErrNoFlowActive) {
		return fmt.Errorf("stop: disable flow: %w", err)
	}
	return nil
}

// EmergencyStop cancels the cycle, cuts flow, and aborts motion
// mid-segment through the capability's own stop primitive. Unlike Stop it
// does not wait for a waypoint boundary.
func (o *Orchestrator) EmergencyStop(ctx context.Context) error {
	o.mu.Lock()
	cyc := o.cycle
	o.mu.Unlock()
	if cyc != nil {
		cyc.cancelled.Store(true)
		cyc.paused.Store(false)
	}
	o.logger.Warn("emergency stop requested")
	ferr := o.tooling.DisableAllFlow(ctx)
	if errors.Is(ferr, tooling.ErrNoFlowActive) {
		ferr = nil
	}
	if err := o.motion.EmergencyStop(ctx); err != nil {
		return err
	}
	return ferr
}

// CleanNozzle purges glue over the cleaning station. Refused while a cycle
// exists.
func (o *Orchestrator) CleanNozzle(ctx context.Context) error {
	o.mu.Lock()
	if o.cycle != nil {
		o.mu.Unlock()
		return ErrCycleAlreadyRunning
	}
	if err := o.ready(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.logger.Info("cleaning nozzle", "valve", o.cfg.CleanValveID)
	if err := o.motion.Transition(motion.StateStarting); err != nil {
		return err
	}
	defer func() {
		if terr := o.motion.Transition(motion.StateIdle); terr != nil {
			o.logger.Error("motion idle transition failed after clean", "error", terr)
		}
	}()

	if err := o.motion.MoveLinear(ctx, o.cfg.CleanPose, o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("move to cleaning station: %w", err)
	}
	if err := o.tooling.SetFlow(ctx, o.cfg.CleanValveID, true); err != nil {
		return fmt.Errorf("clean nozzle: %w", err)
	}

	timer := time.NewTimer(o.cfg.CleanPulse)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		if ferr := o.tooling.SetFlow(ctx, o.cfg.CleanValveID, false); ferr != nil {
			o.logger.Error("flow off failed during aborted clean", "error", ferr)
		}
		return ctx.Err()
	}

	if err := o.tooling.SetFlow(ctx, o.cfg.CleanValveID, false); err != nil {
		return fmt.Errorf("clean nozzle flow off: %w", err)
	}
	if err := o.motion.MoveLinear(ctx, o.cfg.CapturePose, o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("retract from cleaning station: %w", err)
	}
	return nil
}

// CalibrateCamera runs the sensing subsystem's camera calibration.
// Refused while a cycle exists.
func (o *Orchestrator) CalibrateCamera(ctx context.Context) (*capability.CalibrationResult, error) {
	if err := o.refuseDuringCycle(); err != nil {
		return nil, err
	}
	return o.sensing.Calibrate(ctx, capability.CalibrationCamera)
}

// CalibrateMotion runs the vision-guided motion calibration, correlating
// camera and robot coordinate frames. Refused while a cycle exists.
func (o *Orchestrator) CalibrateMotion(ctx context.Context) (*capability.CalibrationResult, error) {
	if err := o.refuseDuringCycle(); err != nil {
		return nil, err
	}
	return o.sensing.Calibrate(ctx, capability.CalibrationMotion)
}

func (o *Orchestrator) refuseDuringCycle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cycle != nil {
		return ErrCycleAlreadyRunning
	}
	return nil
}

// ResetErrors attempts to recover every faulted subsystem. Each reset
// re-verifies hardware; a persisting fault leaves that subsystem in error
// and the first failure is returned.
func (o *Orchestrator) ResetErrors(ctx context.Context) error {
	if err := o.refuseDuringCycle(); err != nil {
		return err
	}
	var first error
	if err := o.motion.ResetErrors(ctx); err != nil {
		first = err
	}
	if err := o.sensing.ResetErrors(ctx); err != nil && first == nil {
		first = err
	}
	o.recompute()
	return first
}

// DefaultGlue returns the glue settings applied to unmatched-mode contours.
func (o *Orchestrator) DefaultGlue() workpiece.GlueSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.DefaultGlue
}

// SetDefaultGlue replaces the cell's default glue settings. Cycles already
// running keep the settings they started with.
func (o *Orchestrator) SetDefaultGlue(gs workpiece.GlueSettings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.DefaultGlue = gs
}

// publishReport emits the cycle's Report on TopicCycleCompleted.
func (o *Orchestrator) publishReport(cyc *cycleContext, err error) {
	report := Report{
		CycleID:   cyc.id,
		StartedAt: cyc.startedAt,
		Duration:  time.Since(cyc.startedAt),
		Matched:   len(cyc.matches),
		Dispensed: cyc.dispensed,
		Waypoints: cyc.waypoints,
		Nested:    len(cyc.placements) > 0,
		Status:    "completed",
	}
	if cyc.capture != nil {
		report.Detected = len(cyc.capture.Contours)
	}
	switch {
	case errors.Is(err, ErrCycleStopped):
		report.Status = "stopped"
		report.Error = err.Error()
	case err != nil:
		report.Status = "failed"
		report.Error = err.Error()
	}
	o.bus.Publish(TopicCycleCompleted, report)
}
