package sensing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/statemachine"
)

// State is the sensing subsystem's closed state set.
type State string

// Sensing states.
const (
	StateInitializing State = "initializing"
	StateIdle         State = "idle"
	StateCalibrating  State = "calibrating"
	StateRunning      State = "running"
	StateError        State = "error"
)

// edges declares the legal transitions; error is implicit from everywhere.
var edges = map[State][]State{
	StateInitializing: {StateIdle},
	StateIdle:         {StateRunning, StateCalibrating},
	StateRunning:      {StateIdle},
	StateCalibrating:  {StateIdle},
	StateError:        {StateIdle},
}

var (
	// ErrBusy is returned when a capture or calibration is already in
	// flight.
	ErrBusy = errors.New("sensing: subsystem busy")

	// ErrNotRunning is returned when the service has not been started.
	ErrNotRunning = errors.New("sensing: service not running")

	// ErrFaulted is returned while the subsystem is in its error state.
	ErrFaulted = errors.New("sensing: subsystem in error state")
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
	// defaultCaptureAttempts bounds retries before the subsystem faults.
	// A flaky frame is retried; a camera that fails this many times in a
	// row is down.
	defaultCaptureAttempts = 3

	// defaultRetryDelay spaces capture retries.
	defaultRetryDelay = 250 * time.Millisecond
)

// Service owns the sensing subsystem.
//
// Thread Safety: all methods are safe for concurrent use; hardware access
// is serialised by an internal semaphore.
type Service struct {
	machine *statemachine.Machine[State]
	cap     capability.Sensing
	logger  Logger

	captureAttempts int
	retryDelay      time.Duration

	mu      sync.Mutex
	running bool
	busy    bool
}

// NewService creates the sensing service. pub receives "sensing/state"
// events; it may be nil in tests.
func NewService(cap capability.Sensing, pub statemachine.Publisher) *Service {
	return &Service{
		machine:         statemachine.New("sensing", StateInitializing, StateError, edges, pub),
		cap:             cap,
		logger:          noopLogger{},
		captureAttempts: defaultCaptureAttempts,
		retryDelay:      defaultRetryDelay,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetCaptureAttempts overrides the retry bound.
func (s *Service) SetCaptureAttempts(n int) {
	if n > 0 {
		s.captureAttempts = n
	}
}

// SetRetryDelay overrides the delay between capture retries.
func (s *Service) SetRetryDelay(d time.Duration) {
	if d >= 0 {
		s.retryDelay = d
	}
}

// Start moves the subsystem to idle. The capture pipeline is assumed warm
// once the capability is constructed; a probe capture happens on demand.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	if err := s.machine.Transition(StateIdle); err != nil {
		return err
	}
	s.logger.Info("sensing service started")
	return nil
}

// Stop marks the service stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("sensing service stopped")
}

// State returns the current subsystem state.
func (s *Service) State() State {
	return s.machine.Current()
}

// InError reports whether the subsystem is faulted.
func (s *Service) InError() bool {
	return s.machine.InError()
}

// acquire claims the hardware for one operation.
func (s *Service) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Capture acquires one frame with detected contours, retrying flaky frames
// up to the attempt bound. Exhausting the bound faults the subsystem and
// returns the last error wrapped in capability.ErrCaptureFailed. A caller
// cancellation cuts the retries short without faulting.
func (s *Service) Capture(ctx context.Context) (*capability.Capture, error) {
	if s.machine.InError() {
		return nil, ErrFaulted
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.machine.Transition(StateRunning); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.captureAttempts; attempt++ {
		capture, err := s.cap.Capture(ctx)
		if err == nil {
			if terr := s.machine.Transition(StateIdle); terr != nil {
				return nil, terr
			}
			s.logger.Debug("capture complete",
				"contours", len(capture.Contours),
				"attempt", attempt,
			)
			return capture, nil
		}

		lastErr = err
		s.logger.Warn("capture attempt failed",
			"attempt", attempt,
			"of", s.captureAttempts,
			"error", err,
		)

		if attempt < s.captureAttempts {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = s.captureAttempts // stop retrying
			}
		}
	}

	// A cancelled caller is not a camera fault. Hand the context error
	// back and leave the subsystem usable.
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		if terr := s.machine.Transition(StateIdle); terr != nil {
			return nil, terr
		}
		return nil, lastErr
	}

	s.fault(lastErr)
	if errors.Is(lastErr, capability.ErrCaptureFailed) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", capability.ErrCaptureFailed, lastErr)
}

// Calibrate runs one calibration routine. Refused while a capture or
// another calibration is in flight.
func (s *Service) Calibrate(ctx context.Context, kind capability.CalibrationKind) (*capability.CalibrationResult, error) {
	if s.machine.InError() {
		return nil, ErrFaulted
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.machine.Transition(StateCalibrating); err != nil {
		return nil, err
	}

	result, err := s.cap.Calibrate(ctx, kind)
	if err != nil {
		s.fault(fmt.Errorf("calibration %s: %w", kind, err))
		return nil, err
	}

	if terr := s.machine.Transition(StateIdle); terr != nil {
		return nil, terr
	}
	s.logger.Info("calibration complete", "kind", kind, "score", result.Score)
	return result, nil
}

// ResetErrors attempts to leave the error state. A probe capture proves
// the pipeline is back; failure leaves the state unchanged and returns
// ErrRecoveryFailed.
func (s *Service) ResetErrors(ctx context.Context) error {
	if !s.machine.InError() {
		return nil
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if _, err := s.cap.Capture(ctx); err != nil {
		return fmt.Errorf("%w: sensing: %w", statemachine.ErrRecoveryFailed, err)
	}

	if err := s.machine.Transition(StateIdle); err != nil {
		return err
	}
	s.logger.Info("sensing errors reset, subsystem idle")
	return nil
}

// fault moves the subsystem to its error state.
func (s *Service) fault(err error) {
	s.logger.Error("sensing fault", "error", err)
	if terr := s.machine.Transition(StateError); terr != nil {
		s.logger.Error("sensing fault transition failed", "error", terr)
	}
}
