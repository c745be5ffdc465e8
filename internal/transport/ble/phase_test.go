package ble

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseScanning, true},
		{PhaseIdle, PhaseDiscovered, true},
		{PhaseIdle, PhaseConnecting, false},
		{PhaseScanning, PhaseDiscovered, true},
		{PhaseDiscovered, PhaseConnecting, true},
		{PhaseConnecting, PhaseServiceDiscovery, true},
		{PhaseConnecting, PhaseReady, false},
		{PhaseServiceDiscovery, PhaseCharacteristicDiscovery, true},
		{PhaseCharacteristicDiscovery, PhaseReady, true},
		{PhaseReady, PhaseDisconnected, true},
		{PhaseConnecting, PhaseFailed, true},
		{PhaseScanning, PhaseDisconnected, true},
		{PhaseFailed, PhaseIdle, false},
		{PhaseDisconnected, PhaseConnecting, false},
		{PhaseDisconnected, PhaseFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhaseMachine(t *testing.T) {
	var seen []Phase
	m := newPhaseMachine("dev", func(_ string, _, to Phase) { seen = append(seen, to) })

	for _, p := range []Phase{PhaseDiscovered, PhaseConnecting, PhaseServiceDiscovery} {
		if err := m.advance(p); err != nil {
			t.Fatalf("advance(%s) error = %v", p, err)
		}
	}
	if err := m.advance(PhaseReady); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance(ready) error = %v, want ErrInvalidTransition", err)
	}

	if !m.end(PhaseFailed) {
		t.Error("end(failed) = false on first call")
	}
	if m.end(PhaseDisconnected) {
		t.Error("end(disconnected) = true after failed")
	}
	if m.current() != PhaseFailed {
		t.Errorf("current() = %s, want failed", m.current())
	}

	want := []Phase{PhaseDiscovered, PhaseConnecting, PhaseServiceDiscovery, PhaseFailed}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("observed[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}
