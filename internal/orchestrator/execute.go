package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/pathgen"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// runCycle drives one cycle through capture, match, nest, path generation,
// and execution. No motion command is issued until the pipeline reaches
// execution, so a planning failure leaves the cell untouched.
func (o *Orchestrator) runCycle(ctx context.Context, cyc *cycleContext) error {
	o.logger.Info("cycle started", "cycle_id", cyc.id,
		"match_mode", cyc.opts.MatchMode, "nesting", cyc.opts.Nesting)

	frame, err := o.sensing.Capture(ctx)
	if err != nil {
		return err
	}
	cyc.capture = frame

	img := frame.Image
	if !cyc.opts.Debug {
		img = nil
	}
	o.bus.Publish(TopicTrajectoryImage, TrajectoryImage{
		CycleID:  cyc.id,
		Image:    img,
		Contours: len(frame.Contours),
		At:       time.Now().UTC(),
	})

	if err := o.match(ctx, cyc); err != nil {
		return err
	}

	contours, err := o.nest(cyc)
	if err != nil {
		return err
	}

	opts := pathgen.Options{Clearance: o.cfg.Clearance, TravelSpeed: o.cfg.TravelSpeed}
	for i := range cyc.matches {
		path, err := pathgen.Generate(cyc.matches[i].Workpiece, contours[i], opts)
		if err != nil {
			return err
		}
		cyc.paths = append(cyc.paths, path)
	}

	return o.execute(ctx, cyc)
}

// match fills the cycle's match list. In match mode contours are scored
// against the stored workpieces and unmatched contours are dropped with a
// warning; otherwise every contour is dispensed with the cell defaults.
func (o *Orchestrator) match(ctx context.Context, cyc *cycleContext) error {
	frame := cyc.capture
	if cyc.opts.MatchMode {
		known, err := o.repo.GetAll(ctx)
		if err != nil {
			return fmt.Errorf("load workpieces: %w", err)
		}
		cyc.matches = o.matcher.Match(frame.Contours, known)
		if dropped := len(frame.Contours) - len(cyc.matches); dropped > 0 {
			o.logger.Warn("unmatched contours dropped", "cycle_id", cyc.id, "dropped", dropped)
		}
	} else {
		glue := o.DefaultGlue()
		for i, c := range frame.Contours {
			cyc.matches = append(cyc.matches, workpiece.Match{
				Workpiece: workpiece.Workpiece{
					ID:      workpiece.GenerateID(),
					Name:    fmt.Sprintf("contour-%d", i+1),
					Contour: c,
					Glue:    glue,
				},
				Detected: c,
				Score:    1,
			})
		}
	}
	if len(cyc.matches) == 0 {
		return ErrNoWorkpieces
	}
	return nil
}

// nest returns the contour each path is generated against. With nesting
// off, or a single match, the detected contours pass through unchanged. An
// infeasible layout aborts the whole cycle; partial placement would
// dispense onto parts sitting outside the planned positions.
func (o *Orchestrator) nest(cyc *cycleContext) ([]capability.Contour, error) {
	contours := make([]capability.Contour, len(cyc.matches))
	for i := range cyc.matches {
		contours[i] = cyc.matches[i].Detected
	}
	if !cyc.opts.Nesting || len(cyc.matches) < 2 {
		return contours, nil
	}

	placements, err := nesting.Layout(contours, o.cfg.WorkArea, o.cfg.NestingMargin)
	if err != nil {
		return nil, fmt.Errorf("nest %d workpieces: %w", len(contours), err)
	}
	cyc.placements = placements

	placed := make([]capability.Contour, len(contours))
	copy(placed, contours)
	for _, p := range placements {
		placed[p.Index] = p.Apply(contours[p.Index])
	}
	return placed, nil
}

// execute runs every generated path in match order. A rejected path skips
// to the next workpiece when nesting is active; without nesting, or on any
// other failure, the cycle aborts through the safe-state teardown.
func (o *Orchestrator) execute(ctx context.Context, cyc *cycleContext) (err error) {
	if err := o.motion.Transition(motion.StateStarting); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			o.teardown(ctx, cyc)
		}
	}()

	total := len(cyc.paths)
	for i, path := range cyc.paths {
		if gerr := o.gateTravel(ctx, cyc); gerr != nil {
			return gerr
		}

		o.bus.Publish(TopicTrajectoryStart, TrajectoryStart{
			CycleID:       cyc.id,
			WorkpieceID:   path.WorkpieceID,
			WorkpieceName: path.WorkpieceName,
			Index:         i,
			Total:         total,
		})

		if perr := o.place(ctx, cyc, i); perr != nil {
			return perr
		}

		perr := o.executePath(ctx, cyc, path)
		if perr != nil {
			// A controller rejection is fatal only to the current
			// workpiece when the parts were nested; the remaining
			// placements are still valid. Without nesting the part
			// positions are suspect, so the cycle aborts.
			if errors.Is(perr, capability.ErrMotionRejected) && cyc.opts.Nesting {
				o.logger.Warn("path rejected, skipping workpiece", "cycle_id", cyc.id,
					"workpiece", path.WorkpieceName, "error", perr)
				if i < total-1 {
					if terr := o.motion.Transition(motion.StateTransitioningBetweenPaths); terr != nil {
						return perr
					}
				}
				continue
			}
			return perr
		}

		cyc.dispensed++
		if i < total-1 {
			if terr := o.motion.Transition(motion.StateTransitioningBetweenPaths); terr != nil {
				return terr
			}
		}
	}

	// Park clear of the camera so the next capture sees the work area.
	if !cyc.cancelled.Load() {
		if merr := o.motion.MoveLinear(ctx, o.cfg.CapturePose, o.cfg.TravelSpeed); merr != nil {
			return merr
		}
	}
	return o.motion.Transition(motion.StateIdle)
}

// executePath dispenses one workpiece: approach above the bead start,
// descend, open the valve, traverse the bead, close the valve, lift off.
// Flow is opened only once the nozzle is in position, and the deferred
// close guarantees it never survives an error return.
func (o *Orchestrator) executePath(ctx context.Context, cyc *cycleContext, path *pathgen.Path) error {
	if err := o.motion.Transition(motion.StateMovingToFirstPoint); err != nil {
		return err
	}
	if err := o.motion.MoveLinear(ctx, path.Approach, o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("approach %s: %w", path.WorkpieceName, err)
	}

	flowOn := false
	defer func() {
		if flowOn {
			if ferr := o.tooling.SetFlow(context.WithoutCancel(ctx), path.ValveID, false); ferr != nil {
				o.logger.Error("flow off failed", "valve", path.ValveID, "error", ferr)
			}
		}
	}()

	if err := o.gate(ctx, cyc, path.ValveID, &flowOn); err != nil {
		return err
	}
	if err := o.motion.Transition(motion.StateExecutingPath); err != nil {
		return err
	}

	for i, wp := range path.Waypoints {
		if err := o.gate(ctx, cyc, path.ValveID, &flowOn); err != nil {
			return err
		}
		if err := o.motion.MoveLinear(ctx, wp.Pose, wp.Speed); err != nil {
			return fmt.Errorf("waypoint %d of %s: %w", i, path.WorkpieceName, err)
		}
		cyc.waypoints++
		if i == 0 {
			// Nozzle is on the bead start point.
			if err := o.tooling.SetFlow(ctx, path.ValveID, true); err != nil {
				return err
			}
			flowOn = true
		}
	}

	if err := o.tooling.SetFlow(ctx, path.ValveID, false); err != nil {
		return err
	}
	flowOn = false

	return o.motion.MoveLinear(ctx, path.Retract, o.cfg.TravelSpeed)
}

// place moves a nested workpiece from its detected position to its planned
// one with the vacuum gripper. Skipped when the part was not repositioned
// or carries no pickup point.
func (o *Orchestrator) place(ctx context.Context, cyc *cycleContext, i int) error {
	if len(cyc.placements) == 0 {
		return nil
	}
	m := cyc.matches[i]
	if m.Workpiece.PickupPoint == nil {
		return nil
	}
	var pl *nesting.Placement
	for j := range cyc.placements {
		if cyc.placements[j].Index == i {
			pl = &cyc.placements[j]
			break
		}
	}
	if pl == nil {
		return nil
	}

	from := m.Detected.Centroid()
	to := pl.Apply(m.Detected).Centroid()
	if from == to {
		return nil
	}

	grip := o.cfg.PickupZ
	clear := grip + o.cfg.Clearance
	at := func(p capability.Point, z float64) capability.Pose {
		return capability.Pose{X: p.X, Y: p.Y, Z: z}
	}

	o.logger.Info("placing workpiece", "cycle_id", cyc.id, "workpiece", m.Workpiece.Name)

	if err := o.motion.MoveLinear(ctx, at(from, clear), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.motion.MoveLinear(ctx, at(from, grip), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.tooling.EngageVacuum(ctx); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.motion.MoveLinear(ctx, at(from, clear), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.motion.MoveLinear(ctx, at(to, clear), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.motion.MoveLinear(ctx, at(to, grip), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.tooling.ReleaseVacuum(ctx); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	if err := o.motion.MoveLinear(ctx, at(to, clear), o.cfg.TravelSpeed); err != nil {
		return fmt.Errorf("place %s: %w", m.Workpiece.Name, err)
	}
	return nil
}

// gateTravel is the pause/cancel check used between paths, where no flow
// can be active.
func (o *Orchestrator) gateTravel(ctx context.Context, cyc *cycleContext) error {
	off := false
	return o.gate(ctx, cyc, 0, &off)
}

// gate is the cooperative cancellation point polled at every waypoint
// boundary. A cancelled cycle returns ErrCycleStopped; a paused one cuts
// flow, parks on the spot until resumed, then restores flow before the
// next segment.
func (o *Orchestrator) gate(ctx context.Context, cyc *cycleContext, valveID int, flowOn *bool) error {
	if cyc.cancelled.Load() {
		return ErrCycleStopped
	}
	if !cyc.paused.Load() {
		return nil
	}

	restore := false
	if *flowOn {
		if err := o.tooling.SetFlow(ctx, valveID, false); err != nil {
			return err
		}
		*flowOn = false
		restore = true
	}
	o.logger.Info("cycle paused at waypoint boundary", "cycle_id", cyc.id)

	for cyc.paused.Load() {
		if cyc.cancelled.Load() {
			return ErrCycleStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
	if cyc.cancelled.Load() {
		return ErrCycleStopped
	}

	o.logger.Info("cycle resuming", "cycle_id", cyc.id)
	if restore {
		if err := o.tooling.SetFlow(ctx, valveID, true); err != nil {
			return err
		}
		*flowOn = true
	}
	return nil
}

// teardown drives the cell to a safe state after a failed or stopped
// cycle: flow off first, then a retract and park only while motion is
// still responsive.
func (o *Orchestrator) teardown(ctx context.Context, cyc *cycleContext) {
	ctx = context.WithoutCancel(ctx)
	if err := o.tooling.DisableAllFlow(ctx); err != nil && !errors.Is(err, tooling.ErrNoFlowActive) {
		o.logger.Error("teardown: disable flow", "cycle_id", cyc.id, "error", err)
	}
	if o.motion.InError() {
		return
	}

	// Lift clear of the part before parking.
	if pose, err := o.motion.Pose(ctx); err == nil {
		pose.Z += o.cfg.Clearance
		if merr := o.motion.MoveLinear(ctx, pose, o.cfg.TravelSpeed); merr != nil {
			o.logger.Error("teardown: retract", "cycle_id", cyc.id, "error", merr)
		}
	}
	if terr := o.motion.Transition(motion.StateIdle); terr != nil {
		o.logger.Error("teardown: motion idle", "cycle_id", cyc.id, "error", terr)
	}
}
