// Package fake provides scripted in-memory capability implementations for
// tests and hardware-less bring-up. Failures are queued per operation so a
// test can make the Nth call fail with a chosen taxonomy error, and every
// hardware-affecting call is appended to a shared Recorder so tests can
// assert effect ordering (flow disabled before retraction, no motion after
// emergency stop).
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// Recorder is an append-only log of hardware calls, shared across the fake
// motion, sensing, and tooling capabilities so ordering between subsystems
// is observable.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Record appends one call description.
func (r *Recorder) Record(format string, args ...any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls in order.
func (r *Recorder) Calls() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// errorScript holds queued failures keyed by operation name.
type errorScript struct {
	mu   sync.Mutex
	errs map[string][]error
}

// queue appends an error to the script for op. nil entries are allowed and
// mean "this call succeeds".
func (s *errorScript) queue(op string, err error) {
	s.mu.Lock()
	if s.errs == nil {
		s.errs = make(map[string][]error)
	}
	s.errs[op] = append(s.errs[op], err)
	s.mu.Unlock()
}

// next pops the scripted error for op, or nil when nothing is queued.
func (s *errorScript) next(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.errs[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	s.errs[op] = q[1:]
	return err
}

// Motion is a scripted capability.Motion.
type Motion struct {
	rec    *Recorder
	script errorScript

	mu      sync.Mutex
	pose    capability.Pose
	enabled bool
	stopped bool
	outputs map[int]bool
	inputs  map[int]bool
}

// NewMotion creates a fake motion capability logging to rec (which may be
// nil).
func NewMotion(rec *Recorder) *Motion {
	return &Motion{
		rec:     rec,
		outputs: make(map[int]bool),
		inputs:  make(map[int]bool),
	}
}

// QueueError schedules err for the next call of op. Operation names match
// the method names ("MoveLinear", "Enable", ...).
func (m *Motion) QueueError(op string, err error) {
	m.script.queue(op, err)
}

// Stopped reports whether Stop has been called since the last Enable.
func (m *Motion) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// SetInput primes a digital input for GetDigitalInput.
func (m *Motion) SetInput(index int, value bool) {
	m.mu.Lock()
	m.inputs[index] = value
	m.mu.Unlock()
}

func (m *Motion) MoveLinear(_ context.Context, pose capability.Pose, speed float64) error {
	m.rec.Record("motion.MoveLinear(%.1f,%.1f,%.1f@%.0f)", pose.X, pose.Y, pose.Z, speed)
	if err := m.script.next("MoveLinear"); err != nil {
		return err
	}
	m.mu.Lock()
	m.pose = pose
	m.mu.Unlock()
	return nil
}

func (m *Motion) MoveJoint(_ context.Context, angles []float64, speed float64) error {
	m.rec.Record("motion.MoveJoint(%v@%.0f)", angles, speed)
	return m.script.next("MoveJoint")
}

func (m *Motion) Jog(_ context.Context, axis capability.Axis, direction capability.Direction, step float64) error {
	m.rec.Record("motion.Jog(%s,%s,%.1f)", axis, direction, step)
	if err := m.script.next("Jog"); err != nil {
		return err
	}
	delta := step
	if direction == capability.DirectionNegative {
		delta = -step
	}
	m.mu.Lock()
	switch axis {
	case capability.AxisX:
		m.pose.X += delta
	case capability.AxisY:
		m.pose.Y += delta
	case capability.AxisZ:
		m.pose.Z += delta
	case capability.AxisRX:
		m.pose.RX += delta
	case capability.AxisRY:
		m.pose.RY += delta
	case capability.AxisRZ:
		m.pose.RZ += delta
	}
	m.mu.Unlock()
	return nil
}

func (m *Motion) GetPose(_ context.Context) (capability.Pose, error) {
	if err := m.script.next("GetPose"); err != nil {
		return capability.Pose{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose, nil
}

func (m *Motion) SetDigitalOutput(_ context.Context, index int, value bool) error {
	m.rec.Record("motion.SetDigitalOutput(%d,%t)", index, value)
	if err := m.script.next("SetDigitalOutput"); err != nil {
		return err
	}
	m.mu.Lock()
	m.outputs[index] = value
	m.mu.Unlock()
	return nil
}

func (m *Motion) GetDigitalInput(_ context.Context, index int) (bool, error) {
	if err := m.script.next("GetDigitalInput"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[index], nil
}

func (m *Motion) Enable(_ context.Context) error {
	m.rec.Record("motion.Enable")
	if err := m.script.next("Enable"); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = true
	m.stopped = false
	m.mu.Unlock()
	return nil
}

func (m *Motion) Disable(_ context.Context) error {
	m.rec.Record("motion.Disable")
	if err := m.script.next("Disable"); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	return nil
}

func (m *Motion) Stop(_ context.Context) error {
	m.rec.Record("motion.Stop")
	if err := m.script.next("Stop"); err != nil {
		return err
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

// Sensing is a scripted capability.Sensing. Captures are served from a
// queue; when the queue is empty a capture with no contours is returned.
type Sensing struct {
	rec    *Recorder
	script errorScript

	mu       sync.Mutex
	captures []*capability.Capture
}

// NewSensing creates a fake sensing capability logging to rec.
func NewSensing(rec *Recorder) *Sensing {
	return &Sensing{rec: rec}
}

// QueueError schedules err for the next call of op ("Capture",
// "Calibrate").
func (s *Sensing) QueueError(op string, err error) {
	s.script.queue(op, err)
}

// QueueCapture appends a capture to be served next.
func (s *Sensing) QueueCapture(c *capability.Capture) {
	s.mu.Lock()
	s.captures = append(s.captures, c)
	s.mu.Unlock()
}

func (s *Sensing) Capture(_ context.Context) (*capability.Capture, error) {
	s.rec.Record("sensing.Capture")
	if err := s.script.next("Capture"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return &capability.Capture{TakenAt: time.Now().UTC()}, nil
	}
	c := s.captures[0]
	s.captures = s.captures[1:]
	return c, nil
}

func (s *Sensing) Calibrate(_ context.Context, kind capability.CalibrationKind) (*capability.CalibrationResult, error) {
	s.rec.Record("sensing.Calibrate(%s)", kind)
	if err := s.script.next("Calibrate"); err != nil {
		return nil, err
	}
	return &capability.CalibrationResult{Kind: kind, Score: 1, Message: "calibration ok"}, nil
}

// Tooling is a scripted capability.Tooling.
type Tooling struct {
	rec    *Recorder
	script errorScript

	mu     sync.Mutex
	flows  map[int]bool
	vacuum bool
	tool   int
	height float64
}

// NewTooling creates a fake tooling capability logging to rec.
func NewTooling(rec *Recorder) *Tooling {
	return &Tooling{rec: rec, flows: make(map[int]bool), tool: -1}
}

// QueueError schedules err for the next call of op.
func (t *Tooling) QueueError(op string, err error) {
	t.script.queue(op, err)
}

// SetHeight primes the laser height reading.
func (t *Tooling) SetHeight(h float64) {
	t.mu.Lock()
	t.height = h
	t.mu.Unlock()
}

// FlowOn reports whether any valve is currently open.
func (t *Tooling) FlowOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, on := range t.flows {
		if on {
			return true
		}
	}
	return false
}

func (t *Tooling) SetFlow(_ context.Context, valveID int, on bool) error {
	t.rec.Record("tooling.SetFlow(%d,%t)", valveID, on)
	if err := t.script.next("SetFlow"); err != nil {
		return err
	}
	t.mu.Lock()
	t.flows[valveID] = on
	t.mu.Unlock()
	return nil
}

func (t *Tooling) EngageVacuum(_ context.Context) error {
	t.rec.Record("tooling.EngageVacuum")
	if err := t.script.next("EngageVacuum"); err != nil {
		return err
	}
	t.mu.Lock()
	t.vacuum = true
	t.mu.Unlock()
	return nil
}

func (t *Tooling) ReleaseVacuum(_ context.Context) error {
	t.rec.Record("tooling.ReleaseVacuum")
	if err := t.script.next("ReleaseVacuum"); err != nil {
		return err
	}
	t.mu.Lock()
	t.vacuum = false
	t.mu.Unlock()
	return nil
}

func (t *Tooling) HasVacuum(_ context.Context) (bool, error) {
	if err := t.script.next("HasVacuum"); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vacuum, nil
}

func (t *Tooling) PickupTool(_ context.Context, slot int) error {
	t.rec.Record("tooling.PickupTool(%d)", slot)
	if err := t.script.next("PickupTool"); err != nil {
		return err
	}
	t.mu.Lock()
	t.tool = slot
	t.mu.Unlock()
	return nil
}

func (t *Tooling) ReturnTool(_ context.Context, slot int) error {
	t.rec.Record("tooling.ReturnTool(%d)", slot)
	if err := t.script.next("ReturnTool"); err != nil {
		return err
	}
	t.mu.Lock()
	t.tool = -1
	t.mu.Unlock()
	return nil
}

func (t *Tooling) GetHeight(_ context.Context) (float64, error) {
	if err := t.script.next("GetHeight"); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height, nil
}
