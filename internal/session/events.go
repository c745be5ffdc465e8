package session

import (
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// Source says where a state change came from.
type Source string

// State sources.
const (
	// SourceLocal is an optimistic update applied before the device confirmed it.
	SourceLocal Source = "local"

	// SourceDevice is a state reported by the device itself.
	SourceDevice Source = "device"
)

// EventKind identifies a session event.
type EventKind string

// Session events.
const (
	EventStateChanged  EventKind = "state_changed"
	EventCommandFailed EventKind = "command_failed"
	EventEnded         EventKind = "ended"
)

// Event is delivered to the session observer on the dispatch goroutine.
type Event struct {
	Kind      EventKind
	DeviceID  string
	State     device.State
	Source    Source
	Command   device.Command
	Err       error
	Reason    string
	Timestamp time.Time
}

// Observer receives session events in order.
type Observer func(Event)
