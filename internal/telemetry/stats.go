package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/orchestrator"
)

// CycleWriter is the subset of the InfluxDB client the stats recorder
// uses. Satisfied by influxdb.Client.
type CycleWriter interface {
	WriteCycleSummary(cellID, cycleID, status string, duration time.Duration, dispensed, waypoints int)
	WriteCycleMetric(cellID string, metric string, value float64)
}

// Stats records completed cycle reports to a time-series store.
//
// It listens on the cycle completion topic and writes one summary point
// per cycle plus per-cycle counting metrics. Writes are fire-and-forget;
// a slow or unavailable store never blocks cycle execution.
type Stats struct {
	bus    Bus
	writer CycleWriter
	cellID string

	mu      sync.Mutex
	started bool
	sub     *bus.Subscription
	logger  Logger
}

// NewStats builds a stats recorder for one cell.
func NewStats(b Bus, writer CycleWriter, cellID string) *Stats {
	return &Stats{
		bus:    b,
		writer: writer,
		cellID: cellID,
		logger: noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (s *Stats) SetLogger(logger Logger) {
	if logger != nil {
		s.mu.Lock()
		s.logger = logger
		s.mu.Unlock()
	}
}

// Start subscribes to cycle completion events.
//
// Returns:
//   - error: ErrAlreadyStarted, or the subscription failure
func (s *Stats) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	sub, err := s.bus.Subscribe(orchestrator.TopicCycleCompleted, s.handleReport)
	if err != nil {
		return err
	}
	s.sub = sub
	s.started = true
	s.logger.Info("cycle stats recorder started", "cell_id", s.cellID)
	return nil
}

// Stop unsubscribes from cycle completion events.
func (s *Stats) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	s.sub.Unsubscribe()
	s.sub = nil
	s.started = false
	s.logger.Info("cycle stats recorder stopped")
	return nil
}

func (s *Stats) handleReport(msg any) any {
	report, ok := msg.(orchestrator.Report)
	if !ok {
		s.logger.Warn("unexpected cycle report payload", "type", fmt.Sprintf("%T", msg))
		return nil
	}

	s.writer.WriteCycleSummary(s.cellID, report.CycleID, report.Status,
		report.Duration, report.Dispensed, report.Waypoints)
	s.writer.WriteCycleMetric(s.cellID, "detected", float64(report.Detected))
	s.writer.WriteCycleMetric(s.cellID, "matched", float64(report.Matched))

	s.logger.Debug("cycle stats recorded",
		"cycle_id", report.CycleID,
		"status", report.Status,
		"dispensed", report.Dispensed)
	return nil
}
