package statemachine

import (
	"fmt"
	"sync"
	"time"
)

// Publisher is the bus surface the machine needs to announce transitions.
type Publisher interface {
	Publish(topic string, msg any)
}

// Event is the payload published on "{subsystem}/state" for every
// transition. States are carried as strings so subscribers do not need the
// subsystem's state type.
type Event struct {
	Subsystem string    `json:"subsystem"`
	State     string    `json:"state"`
	Previous  string    `json:"previous"`
	At        time.Time `json:"at"`
}

// Machine is a closed-enumeration state machine for one subsystem.
//
// The state is mutated only through Transition, under the machine's own
// lock. The error state is implicitly reachable from every state; all other
// edges must be declared up front.
//
// Thread Safety: all methods are safe for concurrent use, but by convention
// only the owning subsystem calls Transition.
type Machine[S ~string] struct {
	name       string
	errorState S

	mu      sync.Mutex
	current S
	edges   map[S][]S

	pub Publisher
}

// New creates a machine named after its subsystem.
//
// Parameters:
//   - name: subsystem name, used as the topic prefix ("motion" publishes
//     on "motion/state")
//   - initial: starting state
//   - errorState: the terminal fault state, reachable from everywhere
//   - edges: legal transitions from each state (the error state's outgoing
//     edges gate what resetErrors may recover to)
//   - pub: bus used to announce transitions (may be nil in tests)
func New[S ~string](name string, initial, errorState S, edges map[S][]S, pub Publisher) *Machine[S] {
	return &Machine[S]{
		name:       name,
		errorState: errorState,
		current:    initial,
		edges:      edges,
		pub:        pub,
	}
}

// Current returns the current state under the machine's lock.
func (m *Machine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// InError reports whether the machine is in its error state.
func (m *Machine[S]) InError() bool {
	return m.Current() == m.errorState
}

// Name returns the subsystem name.
func (m *Machine[S]) Name() string {
	return m.name
}

// Topic returns the bus topic transitions are published on.
func (m *Machine[S]) Topic() string {
	return m.name + "/state"
}

// Transition moves the machine to next.
//
// A transition to the current state is a no-op. The error state is
// accepted from any state; every other edge must be declared. On success
// the swap happens under the machine's lock and an Event is published
// after the lock is released, so a subscriber re-entering the machine
// cannot deadlock.
func (m *Machine[S]) Transition(next S) error {
	m.mu.Lock()
	prev := m.current
	if next == prev {
		m.mu.Unlock()
		return nil
	}
	if next != m.errorState && !m.allowed(prev, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, m.name, prev, next)
	}
	m.current = next
	m.mu.Unlock()

	if m.pub != nil {
		m.pub.Publish(m.Topic(), Event{
			Subsystem: m.name,
			State:     string(next),
			Previous:  string(prev),
			At:        time.Now().UTC(),
		})
	}
	return nil
}

// CanTransition reports whether a transition to next would be accepted
// from the current state.
func (m *Machine[S]) CanTransition(next S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return next == m.current || next == m.errorState || m.allowed(m.current, next)
}

// allowed checks the declared edge table. Caller holds m.mu.
func (m *Machine[S]) allowed(from, to S) bool {
	for _, s := range m.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
