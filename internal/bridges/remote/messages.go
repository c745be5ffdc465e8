package remote

import (
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// CommandMessage is received on {prefix}/command/{device_id}.
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when absent.
	ID string `json:"id"`

	// Command is a command kind accepted by device.ParseCommand
	// ("power", "brightness", "color", "mode" or the set_* forms).
	Command string `json:"command"`

	// Parameters, e.g. {"on": true}, {"level": 128},
	// {"red": 255, "green": 0, "blue": 0}, {"mode": "rainbow"}.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the bulb confirmed the write.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or the write failed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on {prefix}/ack/{device_id}. Not retained.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError.Code.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeWriteFailed    = "WRITE_FAILED"
	ErrCodeUnreachable    = "DEVICE_UNREACHABLE"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// StateMessage is published retained on {prefix}/state/{device_id}.
type StateMessage struct {
	DeviceID  string       `json:"device_id"`
	State     device.State `json:"state"`
	Source    string       `json:"source"`
	Timestamp time.Time    `json:"timestamp"`
}

// DiscoveryMessage is published retained on {prefix}/discovery/{device_id}
// whenever a scan reports a bulb.
type DiscoveryMessage struct {
	DeviceID       string    `json:"device_id"`
	Name           string    `json:"name"`
	SignalStrength int       `json:"signal_strength"`
	IsSimulated    bool      `json:"is_simulated"`
	Timestamp      time.Time `json:"timestamp"`
}

// Availability payloads, published retained on
// {prefix}/availability/{device_id}.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)
