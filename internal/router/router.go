package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/orchestrator"
	"github.com/plrobotics/dispense-core/internal/sensing"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// Logger is the minimal logging surface the router needs.
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

const defaultJogStep = 1.0

// Router dispatches parsed requests to the cell's services.
type Router struct {
	orch    *orchestrator.Orchestrator
	motion  *motion.Service
	sensing *sensing.Service
	tooling *tooling.Service
	repo    workpiece.Repository
	logger  Logger
}

// New wires a router to the services it dispatches to.
func New(orch *orchestrator.Orchestrator, m *motion.Service, s *sensing.Service, t *tooling.Service, repo workpiece.Repository) *Router {
	return &Router{
		orch:    orch,
		motion:  m,
		sensing: s,
		tooling: t,
		repo:    repo,
		logger:  noopLogger{},
	}
}

// SetLogger replaces the router's logger.
func (rt *Router) SetLogger(logger Logger) {
	if logger != nil {
		rt.logger = logger
	}
}

// DispatchPath parses a raw path and payload and dispatches the result.
// Parse failures become ERROR envelopes like any other handler failure.
func (rt *Router) DispatchPath(ctx context.Context, path string, payload []byte) bus.Envelope {
	req, err := Parse(path, payload)
	if err != nil {
		rt.logger.Warn("unparseable request", "path", path, "error", err)
		return bus.Error(err.Error())
	}
	return rt.Dispatch(ctx, req)
}

// Dispatch routes one request to its resource handler and wraps the result
// in a uniform Envelope. Handler panics are captured; a malformed request
// can never take down the dispatching goroutine.
func (rt *Router) Dispatch(ctx context.Context, req Request) (env bus.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("request handler panicked",
				"resource", req.Resource, "action", req.Action, "panic", r)
			env = bus.Error(fmt.Sprintf("internal error handling %s/%s", req.Resource, req.Action))
		}
	}()

	rt.logger.Debug("dispatching request",
		"id", req.ID, "resource", req.Resource, "action", req.Action)

	var (
		data any
		err  error
	)
	switch req.Resource {
	case "robot":
		data, err = rt.robot(ctx, req)
	case "vision", "camera":
		data, err = rt.vision(ctx, req)
	case "workpiece", "workpieces":
		data, err = rt.workpiece(ctx, req)
	case "settings":
		data, err = rt.settings(ctx, req)
	case "operations":
		data, err = rt.operations(ctx, req)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownResource, req.Resource)
	}
	if err != nil {
		rt.logger.Warn("request failed",
			"id", req.ID, "resource", req.Resource, "action", req.Action, "error", err)
		return bus.Error(err.Error())
	}
	return bus.Success(req.Resource+"/"+req.Action, data)
}

// operations covers the cycle lifecycle.
func (rt *Router) operations(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "start":
		opts, err := startOptions(req)
		if err != nil {
			return nil, err
		}
		return nil, rt.orch.Start(ctx, opts)
	case "pause":
		return nil, rt.orch.Pause()
	case "resume":
		return nil, rt.orch.Resume()
	case "stop":
		return nil, rt.orch.Stop(ctx)
	case "emergencyStop":
		return nil, rt.orch.EmergencyStop(ctx)
	case "state":
		return map[string]any{
			"application": rt.orch.State(),
			"motion":      rt.motion.State(),
			"sensing":     rt.sensing.State(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: operations/%s", ErrUnknownAction, req.Action)
	}
}

func startOptions(req Request) (orchestrator.StartOptions, error) {
	var opts orchestrator.StartOptions
	var err error
	if opts.MatchMode, err = req.Bool("matchMode", true); err != nil {
		return opts, err
	}
	if opts.Nesting, err = req.Bool("nesting", false); err != nil {
		return opts, err
	}
	if opts.Debug, err = req.Bool("debug", false); err != nil {
		return opts, err
	}
	return opts, nil
}

// robot covers motion and nozzle actions outside a running cycle.
func (rt *Router) robot(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "jog":
		return nil, rt.jog(ctx, req)
	case "pose":
		pose, err := rt.motion.Pose(ctx)
		if err != nil {
			return nil, err
		}
		return pose, nil
	case "calibrate":
		return rt.orch.CalibrateMotion(ctx)
	case "cleanNozzle":
		return nil, rt.orch.CleanNozzle(ctx)
	case "resetErrors":
		return nil, rt.orch.ResetErrors(ctx)
	case "stop":
		return nil, rt.orch.EmergencyStop(ctx)
	case "measureHeight":
		height, err := rt.tooling.Height(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"height": height}, nil
	case "pickupTool":
		slot, err := req.Int("slot")
		if err != nil {
			return nil, err
		}
		return nil, rt.tooling.PickupTool(ctx, slot)
	case "returnTool":
		slot, err := req.Int("slot")
		if err != nil {
			return nil, err
		}
		return nil, rt.tooling.ReturnTool(ctx, slot)
	case "output":
		return nil, rt.setOutput(ctx, req)
	case "input":
		return rt.getInput(ctx, req)
	case "state":
		return map[string]any{"state": rt.motion.State()}, nil
	default:
		return nil, fmt.Errorf("%w: robot/%s", ErrUnknownAction, req.Action)
	}
}

// jog accepts "robot/jog/x/plus/5" or the same values in the payload.
func (rt *Router) jog(ctx context.Context, req Request) error {
	axisStr, err := req.Arg(0)
	if err != nil {
		if axisStr, err = req.String("axis"); err != nil {
			return err
		}
	}
	dirStr, err := req.Arg(1)
	if err != nil {
		if dirStr, err = req.String("direction"); err != nil {
			return err
		}
	}

	axis, ok := capability.ParseAxis(axisStr)
	if !ok {
		return fmt.Errorf("%w: axis %q", ErrBadParam, axisStr)
	}
	dir, ok := capability.ParseDirection(dirStr)
	if !ok {
		return fmt.Errorf("%w: direction %q", ErrBadParam, dirStr)
	}

	step := defaultJogStep
	if s, argErr := req.Arg(2); argErr == nil {
		if step, err = strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("%w: step %q", ErrBadParam, s)
		}
	} else if _, ok := req.Params["step"]; ok {
		if step, err = req.Float("step"); err != nil {
			return err
		}
	}
	return rt.motion.Jog(ctx, axis, dir, step)
}

func (rt *Router) setOutput(ctx context.Context, req Request) error {
	index, err := req.Int("index")
	if err != nil {
		return err
	}
	value, err := req.Bool("value", false)
	if err != nil {
		return err
	}
	return rt.motion.SetDigitalOutput(ctx, index, value)
}

func (rt *Router) getInput(ctx context.Context, req Request) (any, error) {
	index, err := req.Int("index")
	if err != nil {
		return nil, err
	}
	value, err := rt.motion.GetDigitalInput(ctx, index)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"value": value}, nil
}

// vision covers captures and camera calibration.
func (rt *Router) vision(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "capture":
		frame, err := rt.sensing.Capture(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"contours": frame.Contours,
			"taken_at": frame.TakenAt,
		}, nil
	case "calibrate":
		return rt.orch.CalibrateCamera(ctx)
	case "state":
		return map[string]any{"state": rt.sensing.State()}, nil
	default:
		return nil, fmt.Errorf("%w: vision/%s", ErrUnknownAction, req.Action)
	}
}

// workpiece covers the stored workpiece library.
func (rt *Router) workpiece(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "save", "create":
		wp, err := decodeWorkpiece(req.Params)
		if err != nil {
			return nil, err
		}
		if err := rt.repo.Save(ctx, wp); err != nil {
			return nil, err
		}
		return map[string]string{"id": wp.ID}, nil
	case "getAll":
		return rt.repo.GetAll(ctx)
	case "get":
		id, err := req.Arg(0)
		if err != nil {
			if id, err = req.String("id"); err != nil {
				return nil, err
			}
		}
		return rt.repo.GetByID(ctx, id)
	case "delete":
		id, err := req.Arg(0)
		if err != nil {
			if id, err = req.String("id"); err != nil {
				return nil, err
			}
		}
		return nil, rt.repo.Delete(ctx, id)
	default:
		return nil, fmt.Errorf("%w: workpiece/%s", ErrUnknownAction, req.Action)
	}
}

// decodeWorkpiece converts the normalised payload into a typed workpiece.
func decodeWorkpiece(params map[string]any) (*workpiece.Workpiece, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: workpiece payload: %v", ErrBadParam, err)
	}
	var wp workpiece.Workpiece
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, fmt.Errorf("%w: workpiece payload: %v", ErrBadParam, err)
	}
	return &wp, nil
}

// settings covers the cell's runtime-adjustable defaults.
func (rt *Router) settings(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "getGlue":
		return rt.orch.DefaultGlue(), nil
	case "setGlue":
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: glue settings: %v", ErrBadParam, err)
		}
		gs := rt.orch.DefaultGlue()
		if err := json.Unmarshal(raw, &gs); err != nil {
			return nil, fmt.Errorf("%w: glue settings: %v", ErrBadParam, err)
		}
		rt.orch.SetDefaultGlue(gs)
		return gs, nil
	default:
		return nil, fmt.Errorf("%w: settings/%s", ErrUnknownAction, req.Action)
	}
}
