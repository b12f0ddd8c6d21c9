package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/capability/fake"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/orchestrator"
	"github.com/plrobotics/dispense-core/internal/sensing"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// memRepo is an in-memory workpiece.Repository for dispatch tests.
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

type rig struct {
	router  *Router
	rec     *fake.Recorder
	motion  *fake.Motion
	sensing *fake.Sensing
	tooling *fake.Tooling
	repo    *memRepo
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctx := context.Background()

	r := &rig{
		rec:  &fake.Recorder{},
		repo: &memRepo{},
	}
	r.motion = fake.NewMotion(r.rec)
	r.sensing = fake.NewSensing(r.rec)
	r.tooling = fake.NewTooling(r.rec)

	b := bus.New()

	motionSvc := motion.NewService(r.motion, b)
	if err := motionSvc.Start(ctx); err != nil {
		t.Fatalf("motion start: %v", err)
	}
	t.Cleanup(motionSvc.Stop)

	sensingSvc := sensing.NewService(r.sensing, b)
	sensingSvc.SetRetryDelay(time.Millisecond)
	if err := sensingSvc.Start(ctx); err != nil {
		t.Fatalf("sensing start: %v", err)
	}
	t.Cleanup(sensingSvc.Stop)

	toolingSvc := tooling.NewService(r.tooling, b)
	if err := toolingSvc.Start(ctx); err != nil {
		t.Fatalf("tooling start: %v", err)
	}
	t.Cleanup(toolingSvc.Stop)

	cfg := orchestrator.Config{
		CapturePose: capability.Pose{Z: 300},
		WorkArea:    nesting.Bounds{MaxX: 500, MaxY: 500},
		DefaultGlue: workpiece.GlueSettings{ValveID: 1, Speed: 50, BeadHeight: 1.5},
	}
	orch, err := orchestrator.New(cfg, b, motionSvc, sensingSvc, toolingSvc, r.repo, workpiece.NewMatcher(0))
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	r.router = New(orch, motionSvc, sensingSvc, toolingSvc, r.repo)
	return r
}

func hasCall(calls []string, substr string) bool {
	for _, c := range calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func TestDispatch_UnknownResource(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "thermostat/set", nil)
	if env.Status != bus.StatusError {
		t.Fatalf("status = %q, want %q", env.Status, bus.StatusError)
	}
	if !strings.Contains(env.Message, "unknown resource") {
		t.Errorf("message = %q, want unknown resource", env.Message)
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	r := newRig(t)

	for _, path := range []string{"robot/fly", "vision/focus", "workpiece/rename", "settings/reset", "operations/warp"} {
		env := r.router.DispatchPath(context.Background(), path, nil)
		if env.Status != bus.StatusError {
			t.Errorf("DispatchPath(%q) status = %q, want %q", path, env.Status, bus.StatusError)
		}
	}
}

func TestDispatch_ParseFailureBecomesErrorEnvelope(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "", nil)
	if env.Status != bus.StatusError {
		t.Errorf("status = %q, want %q", env.Status, bus.StatusError)
	}
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	r := newRig(t)
	// A nil repository makes workpiece handlers dereference nil.
	r.router.repo = nil

	env := r.router.Dispatch(context.Background(), Request{Resource: "workpiece", Action: "getAll"})
	if env.Status != bus.StatusError {
		t.Fatalf("status = %q, want %q", env.Status, bus.StatusError)
	}
	if !strings.Contains(env.Message, "internal error") {
		t.Errorf("message = %q, want internal error", env.Message)
	}
}

func TestDispatch_RobotJog(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/jog/x/plus/5", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "motion.Jog(X,positive,5.0)") {
		t.Errorf("jog not issued: %v", r.rec.Calls())
	}
}

func TestDispatch_RobotJogFromPayload(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/jog",
		[]byte(`{"axis":"z","direction":"minus","step":2.5}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "motion.Jog(Z,negative,2.5)") {
		t.Errorf("jog not issued: %v", r.rec.Calls())
	}
}

func TestDispatch_RobotJogBadAxis(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/jog/q/plus", nil)
	if env.Status != bus.StatusError {
		t.Errorf("status = %q, want %q", env.Status, bus.StatusError)
	}
}

func TestDispatch_RobotPose(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/pose", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	if _, ok := env.Data.(capability.Pose); !ok {
		t.Errorf("data = %T, want capability.Pose", env.Data)
	}
}

func TestDispatch_RobotOutputAndInput(t *testing.T) {
	r := newRig(t)
	r.motion.SetInput(2, true)

	env := r.router.DispatchPath(context.Background(), "robot/output", []byte(`{"index":4,"value":true}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("output status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "motion.SetDigitalOutput(4,true)") {
		t.Errorf("output not set: %v", r.rec.Calls())
	}

	env = r.router.DispatchPath(context.Background(), "robot/input", []byte(`{"index":2}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("input status = %q, message = %q", env.Status, env.Message)
	}
	data, ok := env.Data.(map[string]bool)
	if !ok || !data["value"] {
		t.Errorf("input data = %v, want value true", env.Data)
	}
}

func TestDispatch_VisionCapture(t *testing.T) {
	r := newRig(t)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}},
		TakenAt:  time.Now().UTC(),
	})

	env := r.router.DispatchPath(context.Background(), "vision/capture", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want map", env.Data)
	}
	contours, ok := data["contours"].([]capability.Contour)
	if !ok || len(contours) != 1 {
		t.Errorf("contours = %v, want 1 contour", data["contours"])
	}
}

func TestDispatch_CameraAliasRoutesToVision(t *testing.T) {
	r := newRig(t)
	r.sensing.QueueCapture(&capability.Capture{})

	env := r.router.DispatchPath(context.Background(), "camera/capture", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
}

func TestDispatch_WorkpieceLifecycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	payload := []byte(`{
		"name": "gasket",
		"contour": [{"x":0,"y":0},{"x":40,"y":0},{"x":40,"y":40},{"x":0,"y":40}],
		"glue": {"valve_id":2,"speed":60,"flow_rate":1.5,"bead_height":2}
	}`)
	env := r.router.DispatchPath(ctx, "workpiece/save", payload)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("save status = %q, message = %q", env.Status, env.Message)
	}
	ids, ok := env.Data.(map[string]string)
	if !ok || ids["id"] == "" {
		t.Fatalf("save data = %v, want generated id", env.Data)
	}
	id := ids["id"]

	env = r.router.DispatchPath(ctx, "workpiece/getAll", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("getAll status = %q, message = %q", env.Status, env.Message)
	}
	all, ok := env.Data.([]workpiece.Workpiece)
	if !ok || len(all) != 1 || all[0].Name != "gasket" {
		t.Fatalf("getAll data = %v, want one gasket", env.Data)
	}

	env = r.router.DispatchPath(ctx, "workpiece/get/"+id, nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("get status = %q, message = %q", env.Status, env.Message)
	}

	env = r.router.DispatchPath(ctx, "workpiece/delete/"+id, nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("delete status = %q, message = %q", env.Status, env.Message)
	}

	env = r.router.DispatchPath(ctx, "workpiece/get/"+id, nil)
	if env.Status != bus.StatusError {
		t.Errorf("get after delete status = %q, want %q", env.Status, bus.StatusError)
	}
}

func TestDispatch_SettingsGlueRoundTrip(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	env := r.router.DispatchPath(ctx, "settings/setGlue", []byte(`{"valve_id":3,"speed":90}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("setGlue status = %q, message = %q", env.Status, env.Message)
	}

	env = r.router.DispatchPath(ctx, "settings/getGlue", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("getGlue status = %q, message = %q", env.Status, env.Message)
	}
	gs, ok := env.Data.(workpiece.GlueSettings)
	if !ok {
		t.Fatalf("getGlue data = %T, want GlueSettings", env.Data)
	}
	if gs.ValveID != 3 || gs.Speed != 90 {
		t.Errorf("glue = %+v, want valve 3 speed 90", gs)
	}
	// Fields absent from the payload keep their previous values.
	if gs.BeadHeight != 1.5 {
		t.Errorf("bead height = %v, want 1.5 preserved", gs.BeadHeight)
	}
}

func TestDispatch_OperationsStart(t *testing.T) {
	r := newRig(t)
	r.sensing.QueueCapture(&capability.Capture{
		Contours: []capability.Contour{{{X: 0, Y: 0}, {X: 40, Y: 0}, {X: 40, Y: 40}, {X: 0, Y: 40}}},
	})

	env := r.router.DispatchPath(context.Background(), "operations/start", []byte(`{"matchMode":false}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("start status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "tooling.SetFlow(1,true)") {
		t.Errorf("cycle never dispensed: %v", r.rec.Calls())
	}
}

func TestDispatch_OperationsControlWithoutCycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	for _, path := range []string{"operations/pause", "operations/resume", "operations/stop"} {
		env := r.router.DispatchPath(ctx, path, nil)
		if env.Status != bus.StatusError {
			t.Errorf("DispatchPath(%q) status = %q, want %q", path, env.Status, bus.StatusError)
		}
	}
}

func TestDispatch_OperationsState(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "operations/state", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want map", env.Data)
	}
	if data["application"] != orchestrator.StateIdle {
		t.Errorf("application state = %v, want %q", data["application"], orchestrator.StateIdle)
	}
	if data["motion"] != motion.StateIdle {
		t.Errorf("motion state = %v, want %q", data["motion"], motion.StateIdle)
	}
}

func TestDispatch_RobotEmergencyStop(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/stop", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	if !r.motion.Stopped() {
		t.Error("motion capability not stopped")
	}
}

func TestDispatch_RobotMeasureHeight(t *testing.T) {
	r := newRig(t)
	r.tooling.SetHeight(12.5)

	env := r.router.DispatchPath(context.Background(), "robot/measureHeight", nil)
	if env.Status != bus.StatusSuccess {
		t.Fatalf("status = %q, message = %q", env.Status, env.Message)
	}
	data, ok := env.Data.(map[string]float64)
	if !ok || data["height"] != 12.5 {
		t.Errorf("data = %v, want height 12.5", env.Data)
	}
}

func TestDispatch_RobotToolChange(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	env := r.router.DispatchPath(ctx, "robot/pickupTool", []byte(`{"slot":2}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("pickupTool status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "tooling.PickupTool(2)") {
		t.Errorf("tool not picked up: %v", r.rec.Calls())
	}

	env = r.router.DispatchPath(ctx, "robot/returnTool", []byte(`{"slot":2}`))
	if env.Status != bus.StatusSuccess {
		t.Fatalf("returnTool status = %q, message = %q", env.Status, env.Message)
	}
	if !hasCall(r.rec.Calls(), "tooling.ReturnTool(2)") {
		t.Errorf("tool not returned: %v", r.rec.Calls())
	}

	env = r.router.DispatchPath(ctx, "robot/pickupTool", nil)
	if env.Status != bus.StatusError {
		t.Errorf("pickupTool without slot status = %q, want %q", env.Status, bus.StatusError)
	}
}

func TestDispatch_SuccessMessageNamesRoute(t *testing.T) {
	r := newRig(t)

	env := r.router.DispatchPath(context.Background(), "robot/pose", nil)
	if env.Message != "robot/pose" {
		t.Errorf("message = %q, want %q", env.Message, "robot/pose")
	}
}
