package tooling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// TopicTelemetry carries periodic Telemetry payloads.
const TopicTelemetry = "tooling/telemetry"

// defaultPollInterval spaces telemetry polls.
const defaultPollInterval = 500 * time.Millisecond

// ErrNoFlowActive is returned by DisableAllFlow when nothing was open;
// callers treating it as a no-op can ignore it with errors.Is.
var ErrNoFlowActive = errors.New("tooling: no flow active")

// Publisher is the bus surface the telemetry poller needs.
type Publisher interface {
	Publish(topic string, msg any)
}

// Logger is the minimal logging interface the service needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Telemetry is the payload published on TopicTelemetry.
type Telemetry struct {
	Height    float64   `json:"height_mm"`
	HasVacuum bool      `json:"has_vacuum"`
	At        time.Time `json:"at"`
}

// Service owns the tooling subsystem.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	cap    capability.Tooling
	pub    Publisher
	logger Logger

	pollInterval time.Duration

	mu         sync.Mutex
	openValves map[int]bool
	done       chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// NewService creates the tooling service. pub may be nil; then the
// telemetry poller stays disabled.
func NewService(cap capability.Tooling, pub Publisher) *Service {
	return &Service{
		cap:          cap,
		pub:          pub,
		logger:       noopLogger{},
		pollInterval: defaultPollInterval,
		openValves:   make(map[int]bool),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPollInterval overrides the telemetry poll interval.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Start launches the telemetry poller.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.done = make(chan struct{})

	if s.pub != nil {
		s.wg.Add(1)
		go s.poll()
	}
	return nil
}

// Stop halts the poller and closes every open valve, best effort.
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.DisableAllFlow(ctx); err != nil && !errors.Is(err, ErrNoFlowActive) {
		s.logger.Warn("closing valves on shutdown", "error", err)
	}
}

// poll publishes tooling telemetry until Stop.
func (s *Service) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
			height, herr := s.cap.GetHeight(ctx)
			vacuum, verr := s.cap.HasVacuum(ctx)
			cancel()
			if herr != nil || verr != nil {
				s.logger.Debug("telemetry poll failed", "height_err", herr, "vacuum_err", verr)
				continue
			}
			s.pub.Publish(TopicTelemetry, Telemetry{
				Height:    height,
				HasVacuum: vacuum,
				At:        time.Now().UTC(),
			})
		}
	}
}

// SetFlow opens or closes one glue valve and records it, so a later
// DisableAllFlow knows what to cut.
func (s *Service) SetFlow(ctx context.Context, valveID int, on bool) error {
	if err := s.cap.SetFlow(ctx, valveID, on); err != nil {
		return fmt.Errorf("valve %d: %w", valveID, err)
	}
	s.mu.Lock()
	if on {
		s.openValves[valveID] = true
	} else {
		delete(s.openValves, valveID)
	}
	s.mu.Unlock()
	return nil
}

// FlowActive reports whether any valve is currently open.
func (s *Service) FlowActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openValves) > 0
}

// DisableAllFlow closes every valve the service knows to be open. It keeps
// going after individual failures and reports the first error; a valve that
// refuses to close is a fault worth surfacing, but it must not stop the
// remaining valves from closing.
func (s *Service) DisableAllFlow(ctx context.Context) error {
	s.mu.Lock()
	open := make([]int, 0, len(s.openValves))
	for id := range s.openValves {
		open = append(open, id)
	}
	s.mu.Unlock()

	if len(open) == 0 {
		return ErrNoFlowActive
	}

	var firstErr error
	for _, id := range open {
		if err := s.cap.SetFlow(ctx, id, false); err != nil {
			s.logger.Error("failed to close valve", "valve", id, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("valve %d: %w", id, err)
			}
			continue
		}
		s.mu.Lock()
		delete(s.openValves, id)
		s.mu.Unlock()
	}
	return firstErr
}

// EngageVacuum grips a workpiece.
func (s *Service) EngageVacuum(ctx context.Context) error {
	return s.cap.EngageVacuum(ctx)
}

// ReleaseVacuum lets go of a workpiece.
func (s *Service) ReleaseVacuum(ctx context.Context) error {
	return s.cap.ReleaseVacuum(ctx)
}

// HasVacuum reports whether a workpiece is held.
func (s *Service) HasVacuum(ctx context.Context) (bool, error) {
	return s.cap.HasVacuum(ctx)
}

// PickupTool seats the tool from slot. Motion must be stationary for the
// duration; the orchestrator guarantees ordering.
func (s *Service) PickupTool(ctx context.Context, slot int) error {
	return s.cap.PickupTool(ctx, slot)
}

// ReturnTool returns the current tool to slot.
func (s *Service) ReturnTool(ctx context.Context, slot int) error {
	return s.cap.ReturnTool(ctx, slot)
}

// Height reads the laser height sensor.
func (s *Service) Height(ctx context.Context) (float64, error) {
	return s.cap.GetHeight(ctx)
}
