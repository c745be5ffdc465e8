package control

import (
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/session"
)

// EventKind identifies a facade event.
type EventKind string

// Facade events.
const (
	EventScanStarted      EventKind = "scan_started"
	EventDeviceDiscovered EventKind = "device_discovered"
	EventScanFinished     EventKind = "scan_finished"
	EventConnecting       EventKind = "connecting"
	EventSessionStarted   EventKind = "session_started"
	EventSessionEnded     EventKind = "session_ended"
	EventStateChanged     EventKind = "state_changed"
	EventCommandFailed    EventKind = "command_failed"
	EventModeChanged      EventKind = "mode_changed"
)

// Event is delivered to subscribers in emission order.
type Event struct {
	Kind          EventKind         `json:"kind"`
	Device        device.Descriptor `json:"device"`
	State         device.State      `json:"state"`
	Source        session.Source    `json:"source,omitempty"`
	Command       device.Command    `json:"command"`
	Error         string            `json:"error,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	SimulatorMode bool              `json:"simulator_mode"`
	Timestamp     time.Time         `json:"timestamp"`

	// scan identifies the scan a scan or discovery event belongs to.
	scan *operation
}

// Subscriber receives facade events. It runs on the delivery goroutine
// and may call back into the facade, Close included.
type Subscriber func(Event)
