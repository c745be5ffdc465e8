package ble

import (
	"fmt"
	"sync"
)

// Phase is a step of one connection attempt.
type Phase int

// Connection phases. Disconnected and Failed are terminal; a new attempt
// starts again from Idle.
const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseDiscovered
	PhaseConnecting
	PhaseServiceDiscovery
	PhaseCharacteristicDiscovery
	PhaseReady
	PhaseDisconnected
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseDiscovered:
		return "discovered"
	case PhaseConnecting:
		return "connecting"
	case PhaseServiceDiscovery:
		return "service_discovery"
	case PhaseCharacteristicDiscovery:
		return "characteristic_discovery"
	case PhaseReady:
		return "ready"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDisconnected || p == PhaseFailed
}

// forward lists the non-terminal successor of each phase. Every
// non-terminal phase may also move to Disconnected or Failed.
var forward = map[Phase][]Phase{
	PhaseIdle:                    {PhaseScanning, PhaseDiscovered},
	PhaseScanning:                {PhaseDiscovered},
	PhaseDiscovered:              {PhaseConnecting},
	PhaseConnecting:              {PhaseServiceDiscovery},
	PhaseServiceDiscovery:        {PhaseCharacteristicDiscovery},
	PhaseCharacteristicDiscovery: {PhaseReady},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// phaseMachine tracks one attempt. onChange runs outside the lock.
type phaseMachine struct {
	mu       sync.Mutex
	deviceID string
	phase    Phase
	onChange func(deviceID string, from, to Phase)
}

func newPhaseMachine(deviceID string, onChange func(string, Phase, Phase)) *phaseMachine {
	return &phaseMachine{deviceID: deviceID, phase: PhaseIdle, onChange: onChange}
}

// advance moves to the next phase. Returns ErrInvalidTransition if the
// move is not allowed, including any move out of a terminal phase.
func (m *phaseMachine) advance(to Phase) error {
	m.mu.Lock()
	from := m.phase
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.phase = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(m.deviceID, from, to)
	}
	return nil
}

// end moves to a terminal phase unless one was already reached.
// Returns true for the call that ended the attempt.
func (m *phaseMachine) end(to Phase) bool {
	return m.advance(to) == nil
}

func (m *phaseMachine) current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}
