package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bibekanandan892/peerchat/internal/bus"
)

// State represents the lifecycle of the chat socket.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closing    State = "CLOSING"
	Closed     State = "CLOSED"
	Failed     State = "FAILED"
)

// validTransitions defines allowed state transitions. Connecting is reachable
// from every live state because a new connect supersedes the old socket.
var validTransitions = map[State][]State{
	Idle:       {Connecting, Closed},
	Connecting: {Connecting, Open, Closed, Failed},
	Open:       {Connecting, Closing, Closed, Failed},
	Closing:    {Connecting, Closed, Failed},
	Closed:     {Connecting},
	Failed:     {Connecting, Closed},
}

// Machine tracks and enforces socket state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOpen reports whether a socket is currently usable.
func (m *Machine) IsOpen() bool {
	return m.Current() == Open
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
