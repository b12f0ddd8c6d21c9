package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/capability/fake"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/sensing"
	"github.com/plrobotics/dispense-core/internal/statemachine"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// memRepo is an in-memory workpiece.Repository for cycle tests that do
// not need SQLite.
type memRepo struct {
	mu    sync.Mutex
	items []workpiece.Workpiece
}

func (r *memRepo) Save(_ context.Context, wp *workpiece.Workpiece) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp.ID == "" {
		wp.ID = workpiece.GenerateID()
	}
	for i := range r.items {
		if r.items[i].ID == wp.ID {
			r.items[i] = *wp
			return nil
		}
	}
	r.items = append(r.items, *wp)
	return nil
}

func (r *memRepo) GetAll(_ context.Context) ([]workpiece.Workpiece, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workpiece.Workpiece, len(r.items))
	copy(out, r.items)
	return out, nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*workpiece.Workpiece, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			wp := r.items[i]
			return &wp, nil
		}
	}
	return nil, workpiece.ErrNotFound
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return workpiece.ErrNotFound
}

// rig assembles a full orchestrator over fake hardware. Every subsystem
// service is real; only the capability layer is scripted.
type rig struct {
	orch    *Orchestrator
	bus     *bus.Bus
	rec     *fake.Recorder
	motion  *fake.Motion
	sensing *fake.Sensing
	tooling *fake.Tooling
	repo    *memRepo

	motionSvc  *motion.Service
	sensingSvc *sensing.Service
	toolingSvc *tooling.Service
}

func testConfig() Config {
	return Config{
		CapturePose:  capability.Pose{X: 0, Y: 0, Z: 300},
		CleanPose:    capability.Pose{X: -50, Y: -50, Z: 10},
		CleanValveID: 9,
		CleanPulse:   time.Millisecond,
		TravelSpeed:  200,
		Clearance:    30,
		PickupZ:      5,
		WorkArea:     nesting.Bounds{MinX: 0, MinY: 0, MaxX: 500, MaxY: 500},
		DefaultGlue:  workpiece.GlueSettings{ValveID: 1, Speed: 50, FlowRate: 2, BeadHeight: 1.5},
		PollInterval: 2 * time.Millisecond,
	}
}

// newRig starts the subsystem services and builds an orchestrator around
// them. wrapTooling lets a test interpose on the tooling capability; nil
// uses the plain fake.
func newRig(t *testing.T, cfg Config, wrapTooling func(*fake.Tooling) capability.Tooling) *rig {
	t.Helper()
	ctx := context.Background()

	r := &rig{
		bus:  bus.New(),
		rec:  &fake.Recorder{},
		repo: &memRepo{},
	}
	r.motion = fake.NewMotion(r.rec)
	r.sensing = fake.NewSensing(r.rec)
	r.tooling = fake.NewTooling(r.rec)
	toolCap := capability.Tooling(r.tooling)
	if wrapTooling != nil {
		toolCap = wrapTooling(r.tooling)
	}

	r.motionSvc = motion.NewService(r.motion, r.bus)
	r.motionSvc.SetCommandTimeout(time.Second)
	if err := r.motionSvc.Start(ctx); err != nil {
		t.Fatalf("motion start: %v", err)
	}
	t.Cleanup(r.motionSvc.Stop)

	r.sensingSvc = sensing.NewService(r.sensing, r.bus)
	r.sensingSvc.SetRetryDelay(time.Millisecond)
	if err := r.sensingSvc.Start(ctx); err != nil {
		t.Fatalf("sensing start: %v", err)
	}
	t.Cleanup(r.sensingSvc.Stop)

	r.toolingSvc = tooling.NewService(toolCap, r.bus)
	if err := r.toolingSvc.Start(ctx); err != nil {
		t.Fatalf("tooling start: %v", err)
	}
	t.Cleanup(r.toolingSvc.Stop)

	orch, err := New(cfg, r.bus, r.motionSvc, r.sensingSvc, r.toolingSvc, r.repo, workpiece.NewMatcher(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.orch = orch
	return r
}

// square returns a square contour with the given origin and side length.
func square(x, y, side float64) capability.Contour {
	return capability.Contour{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func callIndex(calls []string, substr string) int {
	for i, c := range calls {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

func TestStart_DispensesDetectedContoursInOrder(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40), square(100, 100, 40)},
		TakenAt:  time.Now().UTC(),
	})

	if got := r.orch.State(); got != StateIdle {
		t.Fatalf("State() before cycle = %q, want %q", got, StateIdle)
	}

	var mu sync.Mutex
	var states []ApplicationState
	var trajectories []TrajectoryStart
	if _, err := r.bus.Subscribe(TopicApplicationState, func(msg any) any {
		mu.Lock()
		states = append(states, msg.(StateEvent).State)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := r.bus.Subscribe(TopicTrajectoryStart, func(msg any) any {
		mu.Lock()
		trajectories = append(trajectories, msg.(TrajectoryStart))
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	var report Report
	if _, err := r.bus.Subscribe(TopicCycleCompleted, func(msg any) any {
		mu.Lock()
		report = msg.(Report)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := r.orch.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	want := []ApplicationState{StateStarted, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("application states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("application state %d = %q, want %q", i, states[i], want[i])
		}
	}

	if len(trajectories) != 2 {
		t.Fatalf("trajectory events = %d, want 2", len(trajectories))
	}
	for i, tr := range trajectories {
		if tr.Index != i || tr.Total != 2 {
			t.Errorf("trajectory %d = index %d of %d, want %d of 2", i, tr.Index, tr.Total, i)
		}
	}
	if trajectories[0].WorkpieceName != "contour-1" || trajectories[1].WorkpieceName != "contour-2" {
		t.Errorf("trajectory order = %q, %q, want contour-1, contour-2",
			trajectories[0].WorkpieceName, trajectories[1].WorkpieceName)
	}

	if report.Status != "completed" {
		t.Errorf("report status = %q, want %q", report.Status, "completed")
	}
	if report.Dispensed != 2 {
		t.Errorf("report dispensed = %d, want 2", report.Dispensed)
	}
	if report.Detected != 2 {
		t.Errorf("report detected = %d, want 2", report.Detected)
	}
	// 4 contour points plus the closing waypoint, per workpiece.
	if report.Waypoints != 10 {
		t.Errorf("report waypoints = %d, want 10", report.Waypoints)
	}

	calls := r.rec.Calls()
	if got := countCalls(calls, "tooling.SetFlow(1,true)"); got != 2 {
		t.Errorf("flow opened %d times, want 2", got)
	}
	if r.tooling.FlowOn() {
		t.Error("flow still on after completed cycle")
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() after cycle = %q, want %q", got, StateIdle)
	}
}

func TestStart_MatchModeUsesStoredGlue(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	stored := &workpiece.Workpiece{
		Name:    "gasket",
		Contour: square(0, 0, 40),
		Glue:    workpiece.GlueSettings{ValveID: 7, Speed: 80, FlowRate: 3, BeadHeight: 2},
	}
	if err := r.repo.Save(context.Background(), stored); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(20, 20, 40)},
	})

	if err := r.orch.Start(context.Background(), StartOptions{MatchMode: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	calls := r.rec.Calls()
	if got := countCalls(calls, "tooling.SetFlow(7,true)"); got != 1 {
		t.Errorf("stored valve opened %d times, want 1", got)
	}
	if got := countCalls(calls, "tooling.SetFlow(1,"); got != 0 {
		t.Errorf("default valve used %d times in match mode, want 0", got)
	}
}

func TestStart_MatchModeNothingMatched(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	// Empty repository, so no contour can match.
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(0, 0, 40)},
	})

	err := r.orch.Start(context.Background(), StartOptions{MatchMode: true})
	if !errors.Is(err, ErrNoWorkpieces) {
		t.Fatalf("Start() error = %v, want ErrNoWorkpieces", err)
	}
	if got := countCalls(r.rec.Calls(), "motion.MoveLinear"); got != 0 {
		t.Errorf("motion commands issued = %d, want 0", got)
	}
}

func TestStart_NestingInfeasibleAbortsBeforeMotion(t *testing.T) {
	cfg := testConfig()
	cfg.WorkArea = nesting.Bounds{MinX: 0, MinY: 0, MaxX: 60, MaxY: 60}
	r := newRig(t, cfg, nil)

	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{
			square(0, 0, 50), square(100, 0, 50), square(200, 0, 50),
		},
	})

	err := r.orch.Start(context.Background(), StartOptions{Nesting: true})
	if !errors.Is(err, nesting.ErrInfeasible) {
		t.Fatalf("Start() error = %v, want ErrInfeasible", err)
	}

	if got := countCalls(r.rec.Calls(), "motion.MoveLinear"); got != 0 {
		t.Errorf("motion commands issued = %d, want 0", got)
	}
	if r.tooling.FlowOn() {
		t.Error("flow on after aborted planning")
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() after planning failure = %q, want %q", got, StateIdle)
	}
}

func TestStart_CommunicationErrorFaultsAndRecovers(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40)},
	})

	// Approach and bead start succeed; the second bead segment drops the
	// connection mid-path, after flow has been opened.
	r.motion.QueueError("MoveLinear", nil)
	r.motion.QueueError("MoveLinear", nil)
	r.motion.QueueError("MoveLinear", capability.ErrCommunication)

	err := r.orch.Start(context.Background(), StartOptions{})
	if !errors.Is(err, capability.ErrCommunication) {
		t.Fatalf("Start() error = %v, want ErrCommunication", err)
	}

	if got := r.motionSvc.State(); got != motion.StateError {
		t.Errorf("motion state = %q, want %q", got, motion.StateError)
	}
	if got := r.orch.State(); got != StateError {
		t.Errorf("State() = %q, want %q", got, StateError)
	}
	if r.tooling.FlowOn() {
		t.Error("flow still on after mid-path fault")
	}

	calls := r.rec.Calls()
	on := callIndex(calls, "tooling.SetFlow(1,true)")
	off := callIndex(calls, "tooling.SetFlow(1,false)")
	if on < 0 || off < 0 || off < on {
		t.Errorf("flow on/off order = %d, %d in %v", on, off, calls)
	}

	// The fault persists until reset; a fresh cycle is refused.
	if err := r.orch.Start(context.Background(), StartOptions{}); !errors.Is(err, ErrSubsystemNotReady) {
		t.Errorf("Start() while faulted error = %v, want ErrSubsystemNotReady", err)
	}

	if err := r.orch.ResetErrors(context.Background()); err != nil {
		t.Fatalf("ResetErrors() error = %v", err)
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() after reset = %q, want %q", got, StateIdle)
	}
}

func TestResetErrors_FailsWhileFaultPersists(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40)},
	})
	r.motion.QueueError("MoveLinear", capability.ErrCommunication)

	if err := r.orch.Start(context.Background(), StartOptions{}); err == nil {
		t.Fatal("Start() error = nil, want communication failure")
	}

	// The drive still refuses to enable, so recovery must fail and the
	// subsystem must stay faulted.
	r.motion.QueueError("Enable", capability.ErrCommunication)
	err := r.orch.ResetErrors(context.Background())
	if !errors.Is(err, statemachine.ErrRecoveryFailed) {
		t.Fatalf("ResetErrors() error = %v, want ErrRecoveryFailed", err)
	}
	if got := r.orch.State(); got != StateError {
		t.Errorf("State() after failed reset = %q, want %q", got, StateError)
	}

	// Once the hardware responds again the same reset succeeds.
	if err := r.orch.ResetErrors(context.Background()); err != nil {
		t.Fatalf("ResetErrors() retry error = %v", err)
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() after recovery = %q, want %q", got, StateIdle)
	}
}

func TestStart_RejectedPathSkipsWorkpieceWhenNested(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40), square(100, 100, 40)},
	})

	// First approach is rejected by the controller. The remaining nested
	// placements are still valid, so the cycle moves on to the second
	// workpiece.
	r.motion.QueueError("MoveLinear", capability.ErrMotionRejected)

	if err := r.orch.Start(context.Background(), StartOptions{Nesting: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := r.motionSvc.State(); got != motion.StateIdle {
		t.Errorf("motion state = %q, want %q", got, motion.StateIdle)
	}
	if got := countCalls(r.rec.Calls(), "tooling.SetFlow(1,true)"); got != 1 {
		t.Errorf("flow opened %d times, want 1 (first path skipped)", got)
	}
}

func TestStart_RejectedPathAbortsWithoutNesting(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40), square(100, 100, 40)},
	})

	// Without nesting the part positions are suspect after a rejection,
	// so the cycle must abort rather than dispense the second workpiece.
	r.motion.QueueError("MoveLinear", capability.ErrMotionRejected)

	err := r.orch.Start(context.Background(), StartOptions{})
	if !errors.Is(err, capability.ErrMotionRejected) {
		t.Fatalf("Start() error = %v, want ErrMotionRejected", err)
	}

	if got := countCalls(r.rec.Calls(), "tooling.SetFlow(1,true)"); got != 0 {
		t.Errorf("flow opened %d times after abort, want 0", got)
	}
	if got := r.motionSvc.State(); got != motion.StateIdle {
		t.Errorf("motion state = %q, want %q", got, motion.StateIdle)
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() = %q, want %q", got, StateIdle)
	}
}

func TestStateQuery_AnswersCurrentState(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	env, err := r.bus.Request(TopicStateQuery, nil, time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	evt, ok := env.Data.(StateEvent)
	if !ok {
		t.Fatalf("Data = %T, want StateEvent", env.Data)
	}
	if evt.State != StateIdle {
		t.Errorf("state = %q, want %q", evt.State, StateIdle)
	}
}

func TestStart_NoContoursDetected(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{})

	err := r.orch.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrNoWorkpieces) {
		t.Fatalf("Start() error = %v, want ErrNoWorkpieces", err)
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() = %q, want %q", got, StateIdle)
	}
}

func TestStart_RefusedWhileCycleActive(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	existing := newCycleContext(StartOptions{})
	r.orch.mu.Lock()
	r.orch.cycle = existing
	r.orch.mu.Unlock()

	err := r.orch.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Fatalf("Start() error = %v, want ErrCycleAlreadyRunning", err)
	}

	r.orch.mu.Lock()
	defer r.orch.mu.Unlock()
	if r.orch.cycle != existing {
		t.Error("refused start replaced the active cycle context")
	}
}

// pausingTooling pauses the orchestrator the first time a valve opens, so
// the cycle is guaranteed to hit the next waypoint boundary paused with
// flow active.
type pausingTooling struct {
	*fake.Tooling
	once sync.Once
	hook func()
}

func (p *pausingTooling) SetFlow(ctx context.Context, valveID int, on bool) error {
	if err := p.Tooling.SetFlow(ctx, valveID, on); err != nil {
		return err
	}
	if on {
		p.once.Do(p.hook)
	}
	return nil
}

func TestPauseResume_CutsAndRestoresFlowAtBoundary(t *testing.T) {
	var wrapped *pausingTooling
	r := newRig(t, testConfig(), func(ft *fake.Tooling) capability.Tooling {
		wrapped = &pausingTooling{Tooling: ft}
		return wrapped
	})
	wrapped.hook = func() {
		if err := r.orch.Pause(); err != nil {
			t.Errorf("Pause() error = %v", err)
		}
	}

	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40)},
	})

	done := make(chan error, 1)
	go func() {
		done <- r.orch.Start(context.Background(), StartOptions{})
	}()

	// Wait for the cycle to park at the boundary with flow cut.
	deadline := time.After(2 * time.Second)
	for r.tooling.FlowOn() || callIndex(r.rec.Calls(), "tooling.SetFlow(1,false)") < 0 {
		select {
		case <-deadline:
			t.Fatalf("cycle never paused with flow cut; calls=%v", r.rec.Calls())
		case <-time.After(time.Millisecond):
		}
	}

	if err := r.orch.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish after resume")
	}

	// Pause cut the flow, resume restored it, completion cut it again.
	calls := r.rec.Calls()
	first := callIndex(calls, "tooling.SetFlow(1,true)")
	cut := callIndex(calls[first+1:], "tooling.SetFlow(1,false)")
	restored := callIndex(calls[first+1:], "tooling.SetFlow(1,true)")
	if cut < 0 || restored < 0 || restored < cut {
		t.Errorf("pause/resume flow order wrong: %v", calls)
	}
	if r.tooling.FlowOn() {
		t.Error("flow still on after completed cycle")
	}
}

// Stop is issued from the first trajectory announcement, which runs on
// the cycle goroutine before any bead is dispensed, so the cancellation
// point it hits is deterministic.
func TestStop_CancelsAtNextBoundary(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(10, 10, 40), square(100, 100, 40)},
	})

	if _, err := r.bus.Subscribe(TopicTrajectoryStart, func(any) any {
		if err := r.orch.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var report Report
	if _, err := r.bus.Subscribe(TopicCycleCompleted, func(msg any) any {
		report = msg.(Report)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	err := r.orch.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrCycleStopped) {
		t.Fatalf("Start() error = %v, want ErrCycleStopped", err)
	}

	if report.Status != "stopped" {
		t.Errorf("report status = %q, want %q", report.Status, "stopped")
	}
	if r.tooling.FlowOn() {
		t.Error("flow on after stopped cycle")
	}
	if got := r.orch.State(); got != StateIdle {
		t.Errorf("State() after stop = %q, want %q", got, StateIdle)
	}
	if got := r.motionSvc.State(); got != motion.StateIdle {
		t.Errorf("motion state after stop = %q, want %q", got, motion.StateIdle)
	}
}

func TestStop_DisablesFlowBeforeReturn(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	cyc := newCycleContext(StartOptions{})
	r.orch.mu.Lock()
	r.orch.cycle = cyc
	r.orch.mu.Unlock()

	if err := r.toolingSvc.SetFlow(context.Background(), 3, true); err != nil {
		t.Fatalf("SetFlow() error = %v", err)
	}

	if err := r.orch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if r.tooling.FlowOn() {
		t.Error("flow still on after Stop returned")
	}
	if !cyc.cancelled.Load() {
		t.Error("cycle not flagged cancelled")
	}
}

func TestPauseResumeStop_RequireActiveCycle(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	if err := r.orch.Pause(); !errors.Is(err, ErrNoActiveCycle) {
		t.Errorf("Pause() error = %v, want ErrNoActiveCycle", err)
	}
	if err := r.orch.Resume(); !errors.Is(err, ErrNoActiveCycle) {
		t.Errorf("Resume() error = %v, want ErrNoActiveCycle", err)
	}
	if err := r.orch.Stop(context.Background()); !errors.Is(err, ErrNoActiveCycle) {
		t.Errorf("Stop() error = %v, want ErrNoActiveCycle", err)
	}
}

func TestResume_NotPaused(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	r.orch.mu.Lock()
	r.orch.cycle = newCycleContext(StartOptions{})
	r.orch.mu.Unlock()

	if err := r.orch.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() error = %v, want ErrNotPaused", err)
	}
}

func TestEmergencyStop_AbortsMotionImmediately(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	cyc := newCycleContext(StartOptions{})
	r.orch.mu.Lock()
	r.orch.cycle = cyc
	r.orch.mu.Unlock()

	if err := r.toolingSvc.SetFlow(context.Background(), 1, true); err != nil {
		t.Fatalf("SetFlow() error = %v", err)
	}

	if err := r.orch.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("EmergencyStop() error = %v", err)
	}
	if !r.motion.Stopped() {
		t.Error("motion capability not stopped")
	}
	if r.tooling.FlowOn() {
		t.Error("flow still on after emergency stop")
	}
	if !cyc.cancelled.Load() {
		t.Error("cycle not flagged cancelled")
	}
}

func TestCleanNozzle_PulsesCleanValve(t *testing.T) {
	cfg := testConfig()
	r := newRig(t, cfg, nil)

	if err := r.orch.CleanNozzle(context.Background()); err != nil {
		t.Fatalf("CleanNozzle() error = %v", err)
	}

	calls := r.rec.Calls()
	move := callIndex(calls, "motion.MoveLinear(-50.0,-50.0,10.0")
	on := callIndex(calls, "tooling.SetFlow(9,true)")
	off := callIndex(calls, "tooling.SetFlow(9,false)")
	park := callIndex(calls, "motion.MoveLinear(0.0,0.0,300.0")
	if move < 0 || on < move || off < on || park < off {
		t.Errorf("clean sequence out of order: %v", calls)
	}
	if got := r.motionSvc.State(); got != motion.StateIdle {
		t.Errorf("motion state after clean = %q, want %q", got, motion.StateIdle)
	}
}

func TestCleanNozzle_RefusedDuringCycle(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	r.orch.mu.Lock()
	r.orch.cycle = newCycleContext(StartOptions{})
	r.orch.mu.Unlock()

	if err := r.orch.CleanNozzle(context.Background()); !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Errorf("CleanNozzle() error = %v, want ErrCycleAlreadyRunning", err)
	}
}

func TestCalibrate_RefusedDuringCycle(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	r.orch.mu.Lock()
	r.orch.cycle = newCycleContext(StartOptions{})
	r.orch.mu.Unlock()

	if _, err := r.orch.CalibrateCamera(context.Background()); !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Errorf("CalibrateCamera() error = %v, want ErrCycleAlreadyRunning", err)
	}
	if _, err := r.orch.CalibrateMotion(context.Background()); !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Errorf("CalibrateMotion() error = %v, want ErrCycleAlreadyRunning", err)
	}
}

func TestStart_NestedLayoutStaysInsideWorkArea(t *testing.T) {
	cfg := testConfig()
	cfg.NestingMargin = 5
	r := newRig(t, cfg, nil)

	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{square(400, 400, 40), square(10, 10, 40)},
	})

	var report Report
	if _, err := r.bus.Subscribe(TopicCycleCompleted, func(msg any) any {
		report = msg.(Report)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := r.orch.Start(context.Background(), StartOptions{Nesting: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !report.Nested {
		t.Error("report nested = false, want true")
	}
	if report.Dispensed != 2 {
		t.Errorf("report dispensed = %d, want 2", report.Dispensed)
	}
}

func TestSetDefaultGlue(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	gs := workpiece.GlueSettings{ValveID: 4, Speed: 75, FlowRate: 1.2, BeadHeight: 3}
	r.orch.SetDefaultGlue(gs)
	if got := r.orch.DefaultGlue(); got != gs {
		t.Errorf("DefaultGlue() = %+v, want %+v", got, gs)
	}
}
