package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/infrastructure/mqtt"
	"github.com/plrobotics/dispense-core/internal/orchestrator"
)

// Sentinel errors for bridge lifecycle misuse.
var (
	// ErrAlreadyStarted indicates Start was called on a running bridge.
	ErrAlreadyStarted = errors.New("telemetry: already started")

	// ErrNotStarted indicates Stop was called on a bridge that never started.
	ErrNotStarted = errors.New("telemetry: not started")
)

// Logger is the minimal logging interface used by this package.
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

// Bus is the subset of the topic bus the bridge consumes.
type Bus interface {
	Subscribe(topic string, handler bus.Handler) (*bus.Subscription, error)
	Request(topic string, msg any, timeout time.Duration) (bus.Envelope, error)
}

// Publisher is the subset of the MQTT client the bridge uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Dispatcher executes a slash-delimited command path and returns the
// uniform response envelope. Satisfied by router.Router.
type Dispatcher interface {
	DispatchPath(ctx context.Context, path string, payload []byte) bus.Envelope
}

// BridgeConfig controls which bus topics are mirrored and at what QoS.
type BridgeConfig struct {
	// EventTopics lists the bus topics to republish under dispense/event/.
	// Empty means DefaultEventTopics.
	EventTopics []string

	// QoS applies to all bridge publishes. Valid values are 0 to 2.
	QoS byte
}

// DefaultEventTopics covers every externally useful bus event.
var DefaultEventTopics = []string{
	"application/state",
	"motion/state",
	"sensing/state",
	"motion/trajectory/start",
	"motion/trajectory/image",
	"tooling/telemetry",
	"cycle/completed",
}

// commandRequest is the wire shape accepted on dispense/command/request.
type commandRequest struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Params json.RawMessage `json:"params,omitempty"`
}

// commandResponse is the wire shape published on dispense/command/response/{id}.
type commandResponse struct {
	ID string `json:"id"`
	bus.Envelope
}

// Bridge mirrors bus events to MQTT and executes MQTT commands through
// the request router.
type Bridge struct {
	bus    Bus
	mqtt   Publisher
	disp   Dispatcher
	cfg    BridgeConfig
	topics mqtt.Topics

	mu      sync.Mutex
	started bool
	subs    []*bus.Subscription
	logger  Logger
}

// NewBridge builds a bridge over the given bus, MQTT client and dispatcher.
// Call Start to begin mirroring.
func NewBridge(b Bus, client Publisher, disp Dispatcher, cfg BridgeConfig) *Bridge {
	if len(cfg.EventTopics) == 0 {
		cfg.EventTopics = DefaultEventTopics
	}
	return &Bridge{
		bus:    b,
		mqtt:   client,
		disp:   disp,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (br *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		br.mu.Lock()
		br.logger = logger
		br.mu.Unlock()
	}
}

// Start subscribes to the configured bus topics and to the MQTT command
// request topic. It is not idempotent.
//
// Returns:
//   - error: ErrAlreadyStarted, or the first subscription failure
func (br *Bridge) Start() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.started {
		return ErrAlreadyStarted
	}

	for _, topic := range br.cfg.EventTopics {
		sub, err := br.bus.Subscribe(topic, br.eventHandler(topic))
		if err != nil {
			br.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		br.subs = append(br.subs, sub)
	}

	if err := br.mqtt.Subscribe(br.topics.CommandRequest(), br.cfg.QoS, br.handleCommand); err != nil {
		br.unsubscribeLocked()
		return fmt.Errorf("subscribe command requests: %w", err)
	}

	br.started = true
	br.logger.Info("mqtt bridge started", "event_topics", len(br.cfg.EventTopics))

	// State topics only fire on transitions, so an MQTT client connecting
	// between transitions would wait for the next change. Mirror the
	// present application state retained so late joiners see it at once.
	go br.publishCurrentState()
	return nil
}

// publishCurrentState requests the application state over the bus and
// republishes it as a retained MQTT message. Best effort: a cell still
// starting up simply has no state to mirror yet.
func (br *Bridge) publishCurrentState() {
	env, err := br.bus.Request(orchestrator.TopicStateQuery, nil, 0)
	if err != nil {
		br.logger.Debug("application state unavailable", "error", err)
		return
	}
	payload, err := json.Marshal(env.Data)
	if err != nil {
		br.logger.Warn("marshal application state", "error", err)
		return
	}
	topic := br.topics.Event(orchestrator.TopicApplicationState)
	if err := br.mqtt.Publish(topic, payload, br.cfg.QoS, true); err != nil {
		br.logger.Warn("publish application state", "error", err)
	}
}

// Stop tears down all subscriptions. Safe to call once after Start.
func (br *Bridge) Stop() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if !br.started {
		return ErrNotStarted
	}

	if err := br.mqtt.Unsubscribe(br.topics.CommandRequest()); err != nil {
		br.logger.Warn("unsubscribe command requests", "error", err)
	}
	br.unsubscribeLocked()
	br.started = false
	br.logger.Info("mqtt bridge stopped")
	return nil
}

func (br *Bridge) unsubscribeLocked() {
	for _, sub := range br.subs {
		sub.Unsubscribe()
	}
	br.subs = nil
}

// eventHandler returns a bus handler that republishes messages for one
// topic. Republish failures are logged, never propagated: the bridge is
// an observer and must not perturb cycle execution.
func (br *Bridge) eventHandler(topic string) bus.Handler {
	mqttTopic := br.topics.Event(topic)
	return func(msg any) any {
		payload, err := json.Marshal(msg)
		if err != nil {
			br.logger.Warn("marshal event", "topic", topic, "error", err)
			return nil
		}
		if err := br.mqtt.Publish(mqttTopic, payload, br.cfg.QoS, false); err != nil {
			br.logger.Warn("republish event", "topic", topic, "error", err)
		}
		return nil
	}
}

// handleCommand parses one command request and dispatches it.
//
// Dispatch runs on its own goroutine: cycle start blocks until the cycle
// ends, and the MQTT client must not stall its receive path that long.
func (br *Bridge) handleCommand(_ string, payload []byte) error {
	var req commandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		br.logger.Warn("malformed command request", "error", err)
		return fmt.Errorf("decode command request: %w", err)
	}
	if req.ID == "" || req.Path == "" {
		br.logger.Warn("command request missing id or path")
		return errors.New("command request missing id or path")
	}

	go br.dispatch(req)
	return nil
}

func (br *Bridge) dispatch(req commandRequest) {
	env := br.disp.DispatchPath(context.Background(), req.Path, req.Params)

	resp, err := json.Marshal(commandResponse{ID: req.ID, Envelope: env})
	if err != nil {
		br.logger.Error("marshal command response", "id", req.ID, "error", err)
		return
	}
	if err := br.mqtt.Publish(br.topics.CommandResponse(req.ID), resp, br.cfg.QoS, false); err != nil {
		br.logger.Error("publish command response", "id", req.ID, "error", err)
	}
}
