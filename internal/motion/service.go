package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/statemachine"
)

// Logger is the minimal logging interface the service needs.
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

const (
	// defaultCommandTimeout bounds one synchronous hardware command,
	// queue wait included. Motion commands complete in tens of
	// milliseconds to a few seconds; anything slower means the link or
	// the controller is gone.
	defaultCommandTimeout = 15 * time.Second

	// commandQueueSize bounds outstanding commands. The orchestrator
	// issues one command at a time; depth beyond a handful means a
	// caller is misbehaving and should be refused, not queued.
	commandQueueSize = 8
)

// command is one unit of work for the hardware worker.
type command struct {
	name  string
	run   func(ctx context.Context) error
	reply chan error
}

// Service owns the motion subsystem.
//
// Thread Safety: all methods are safe for concurrent use. Hardware I/O is
// serialised on the worker goroutine; EmergencyStop bypasses it.
type Service struct {
	machine *statemachine.Machine[State]
	cap     capability.Motion
	logger  Logger

	commandTimeout time.Duration

	mu      sync.Mutex
	cmds    chan command
	done    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewService creates the motion service. pub receives "motion/state"
// events (the orchestrator's bus); it may be nil in tests.
func NewService(cap capability.Motion, pub statemachine.Publisher) *Service {
	return &Service{
		machine:        newMachine(pub),
		cap:            cap,
		logger:         noopLogger{},
		commandTimeout: defaultCommandTimeout,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetCommandTimeout overrides the per-command timeout.
func (s *Service) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		s.commandTimeout = d
	}
}

// Start launches the hardware worker, enables the drives, and moves the
// subsystem to idle.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.cmds = make(chan command, commandQueueSize)
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.worker()

	if err := s.do(ctx, "enable", s.cap.Enable); err != nil {
		return fmt.Errorf("enabling drives: %w", err)
	}
	if err := s.machine.Transition(StateIdle); err != nil {
		return err
	}
	s.logger.Info("motion service started")
	return nil
}

// Stop shuts the worker down and releases the drives, best effort.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.commandTimeout)
	defer cancel()
	if err := s.cap.Disable(ctx); err != nil {
		s.logger.Warn("disabling drives on shutdown", "error", err)
	}
	s.logger.Info("motion service stopped")
}

// worker serialises hardware I/O on one goroutine.
func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.cmds:
			ctx, cancel := context.WithTimeout(context.Background(), s.commandTimeout)
			err := cmd.run(ctx)
			cancel()
			cmd.reply <- err
		}
	}
}

// do submits a command to the worker and waits for its result, bounded by
// the command timeout. A timeout or a lost link drives the subsystem to
// its error state.
func (s *Service) do(ctx context.Context, name string, run func(ctx context.Context) error) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cmds := s.cmds
	s.mu.Unlock()

	cmd := command{name: name, run: run, reply: make(chan error, 1)}
	select {
	case cmds <- cmd:
	default:
		return fmt.Errorf("%w: command queue full (%s)", ErrBusy, name)
	}

	timer := time.NewTimer(s.commandTimeout)
	defer timer.Stop()

	select {
	case err := <-cmd.reply:
		if err != nil {
			s.classify(name, err)
			return err
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("motion %s: %w", name, ctx.Err())
	case <-timer.C:
		// The worker may still be blocked in the driver; the link state
		// is unknown, so treat it as a fault.
		s.fault(fmt.Errorf("%w: %s after %v", ErrCommandTimeout, name, s.commandTimeout))
		return fmt.Errorf("%w: %s after %v", ErrCommandTimeout, name, s.commandTimeout)
	}
}

// classify maps a capability error to subsystem state. A lost link is a
// subsystem fault; a rejected command is the caller's problem.
func (s *Service) classify(name string, err error) {
	if errors.Is(err, capability.ErrCommunication) {
		s.fault(fmt.Errorf("%s: %w", name, err))
		return
	}
	s.logger.Warn("motion command failed", "command", name, "error", err)
}

// fault moves the subsystem to its error state and logs the cause.
func (s *Service) fault(err error) {
	s.logger.Error("motion fault", "error", err)
	if terr := s.machine.Transition(StateError); terr != nil {
		s.logger.Error("motion fault transition failed", "error", terr)
	}
}

// State returns the current subsystem state.
func (s *Service) State() State {
	return s.machine.Current()
}

// InError reports whether the subsystem is faulted.
func (s *Service) InError() bool {
	return s.machine.InError()
}

// Transition advances the subsystem state machine. Only the cycle
// orchestrator (the subsystem's driver) calls this, to mark path phases.
func (s *Service) Transition(next State) error {
	return s.machine.Transition(next)
}

// guard refuses hardware-affecting calls while faulted.
func (s *Service) guard() error {
	if s.machine.InError() {
		return ErrFaulted
	}
	return nil
}

// MoveLinear moves the TCP to pose at speed, blocking until done.
func (s *Service) MoveLinear(ctx context.Context, pose capability.Pose, speed float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.do(ctx, "moveLinear", func(ctx context.Context) error {
		return s.cap.MoveLinear(ctx, pose, speed)
	})
}

// MoveJoint moves to the given joint angles at speed.
func (s *Service) MoveJoint(ctx context.Context, angles []float64, speed float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.do(ctx, "moveJoint", func(ctx context.Context) error {
		return s.cap.MoveJoint(ctx, angles, speed)
	})
}

// Jog steps one axis by step in direction.
func (s *Service) Jog(ctx context.Context, axis capability.Axis, direction capability.Direction, step float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.do(ctx, "jog", func(ctx context.Context) error {
		return s.cap.Jog(ctx, axis, direction, step)
	})
}

// Pose returns the current TCP pose.
func (s *Service) Pose(ctx context.Context) (capability.Pose, error) {
	var pose capability.Pose
	err := s.do(ctx, "getPose", func(ctx context.Context) error {
		var err error
		pose, err = s.cap.GetPose(ctx)
		return err
	})
	return pose, err
}

// SetDigitalOutput drives a controller output.
func (s *Service) SetDigitalOutput(ctx context.Context, index int, value bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.do(ctx, "setDigitalOutput", func(ctx context.Context) error {
		return s.cap.SetDigitalOutput(ctx, index, value)
	})
}

// GetDigitalInput reads a controller input.
func (s *Service) GetDigitalInput(ctx context.Context, index int) (bool, error) {
	var value bool
	err := s.do(ctx, "getDigitalInput", func(ctx context.Context) error {
		var err error
		value, err = s.cap.GetDigitalInput(ctx, index)
		return err
	})
	return value, err
}

// EmergencyStop aborts motion immediately. It bypasses the worker and is
// safe from any goroutine at any time, including mid-move.
func (s *Service) EmergencyStop(ctx context.Context) error {
	s.logger.Warn("emergency stop issued")
	if err := s.cap.Stop(ctx); err != nil {
		s.fault(fmt.Errorf("emergency stop: %w", err))
		return err
	}
	return nil
}

// ResetErrors attempts to leave the error state. The hardware must prove
// readiness (drives enable, pose readable) before the subsystem returns to
// idle; otherwise the reset fails with ErrRecoveryFailed and the state
// stays unchanged.
func (s *Service) ResetErrors(ctx context.Context) error {
	if !s.machine.InError() {
		return nil
	}

	verify := func(ctx context.Context) error {
		if err := s.cap.Enable(ctx); err != nil {
			return err
		}
		_, err := s.cap.GetPose(ctx)
		return err
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cmds := s.cmds
	s.mu.Unlock()

	// Submit directly rather than via do(): a verify failure must not
	// re-fault an already faulted machine, just fail the reset.
	cmd := command{name: "resetErrors", run: verify, reply: make(chan error, 1)}
	select {
	case cmds <- cmd:
	default:
		return fmt.Errorf("%w: command queue full (resetErrors)", ErrBusy)
	}

	timer := time.NewTimer(s.commandTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-cmd.reply:
	case <-ctx.Done():
		return fmt.Errorf("motion resetErrors: %w", ctx.Err())
	case <-timer.C:
		err = ErrCommandTimeout
	}
	if err != nil {
		return fmt.Errorf("%w: motion: %w", statemachine.ErrRecoveryFailed, err)
	}

	if err := s.machine.Transition(StateIdle); err != nil {
		return err
	}
	s.logger.Info("motion errors reset, subsystem idle")
	return nil
}
