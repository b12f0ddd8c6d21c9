package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout is used by Request when the caller passes a
// non-positive timeout.
const DefaultRequestTimeout = 1 * time.Second

// Handler processes a message published or requested on a topic.
//
// For Publish subscriptions the return value is ignored. For Request
// subscriptions a non-nil return value is the response; returning nil
// declines the request and lets the next subscriber answer.
type Handler func(msg any) any

// Logger is the minimal logging interface the bus needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscription is the handle returned by Subscribe. The owner disposes of
// it deterministically via Unsubscribe; a closed subscription never
// receives another delivery, and its slot is pruned lazily on the next
// publish to the topic.
type Subscription struct {
	topic   string
	handler Handler
	closed  atomic.Bool
}

// Unsubscribe marks the subscription closed. Safe to call from any
// goroutine, any number of times, including from inside a handler that is
// currently being dispatched to.
func (s *Subscription) Unsubscribe() {
	s.closed.Store(true)
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Bus is an in-process publish/subscribe broker with a synchronous
// request/response primitive.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers are invoked outside the bus lock, so handlers may re-enter
//     the bus freely.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*Subscription
	logger Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string][]*Subscription),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for handler panics and delivery warnings.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

func (b *Bus) getLogger() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

// Subscribe registers a handler for a topic and returns its handle.
//
// Delivery order follows subscription order. Subscribing during an active
// publish is safe; the in-flight publish dispatches only to the snapshot
// taken when it started.
func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{topic: topic, handler: handler}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return sub, nil
}

// Publish delivers msg to every live subscriber of the exact topic,
// synchronously, in subscription order. Fire-and-forget: handler return
// values are discarded and a panicking handler does not prevent delivery
// to the remaining subscribers.
func (b *Bus) Publish(topic string, msg any) {
	for _, sub := range b.snapshot(topic) {
		if sub.closed.Load() {
			// Unsubscribed after the snapshot was taken but before
			// dispatch reached it; skip rather than deliver.
			continue
		}
		b.invoke(sub, msg)
	}
}

// Request delivers msg to subscribers of the topic in order until one
// returns a non-nil result, blocking the caller until a response arrives or
// timeout elapses. A non-positive timeout selects DefaultRequestTimeout.
//
// Handler results of type Envelope are returned as-is; any other non-nil
// result is wrapped in a SUCCESS envelope. No subscriber, or every
// subscriber declining, yields ErrRequestTimeout after the full timeout —
// declining is not an answer.
func (b *Bus) Request(topic string, msg any, timeout time.Duration) (Envelope, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	result := make(chan Envelope, 1)
	go func() {
		for _, sub := range b.snapshot(topic) {
			if sub.closed.Load() {
				continue
			}
			res := b.invoke(sub, msg)
			if res == nil {
				continue
			}
			if env, ok := res.(Envelope); ok {
				result <- env
			} else {
				result <- Success("ok", res)
			}
			return
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-result:
		return env, nil
	case <-timer.C:
		return Error(fmt.Sprintf("no response on %q within %v", topic, timeout)),
			fmt.Errorf("%w: topic %q after %v", ErrRequestTimeout, topic, timeout)
	}
}

// SubscriberCount returns the number of live subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, sub := range b.topics[topic] {
		if !sub.closed.Load() {
			n++
		}
	}
	return n
}

// Topics returns all topics that currently have at least one live
// subscriber.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var topics []string
	for topic, subs := range b.topics {
		for _, sub := range subs {
			if !sub.closed.Load() {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}

// snapshot returns a copy of the live subscriptions for a topic, pruning
// closed ones from the registry while it holds the lock. The copy is
// dispatched to outside the lock so handlers can re-enter the bus.
func (b *Bus) snapshot(topic string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	if len(subs) == 0 {
		return nil
	}

	live := subs[:0]
	for _, sub := range subs {
		if !sub.closed.Load() {
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		delete(b.topics, topic)
		return nil
	}
	b.topics[topic] = live

	out := make([]*Subscription, len(live))
	copy(out, live)
	return out
}

// invoke runs a handler with panic recovery. A recovered panic is logged
// and treated as a nil result.
func (b *Bus) invoke(sub *Subscription, msg any) (res any) {
	defer func() {
		if r := recover(); r != nil {
			b.getLogger().Error("bus handler panic recovered",
				"topic", sub.topic,
				"panic", r,
			)
			res = nil
		}
	}()
	return sub.handler(msg)
}
