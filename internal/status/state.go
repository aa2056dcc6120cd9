// Package status tracks the daemon lifecycle.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/talk/internal/bus"
)

// KindChanged is the bus event published on every transition.
const KindChanged = "daemon.status_changed"

// State represents a daemon runtime state.
type State string

const (
	Booting   State = "BOOTING"
	Migrating State = "MIGRATING"
	Serving   State = "SERVING"
	Draining  State = "DRAINING"
	Stopped   State = "STOPPED"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:   {Migrating, Error},
	Migrating: {Serving, Error},
	Serving:   {Draining, Error},
	Draining:  {Stopped, Error},
	Stopped:   {},
	Error:     {Booting, Draining},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state or returns an error if the move is not
// allowed from the current one.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(KindChanged, Change{From: from, To: to})
	}
	return nil
}

// Change is the payload of KindChanged events.
type Change struct {
	From State
	To   State
}
