package device

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the lighting effect a bulb runs.
// The numeric values are the on-air encoding and must not change.
type Mode uint8

// Lighting modes supported by the bulb firmware.
const (
	ModeSolid   Mode = 0
	ModeFade    Mode = 1
	ModeRainbow Mode = 2
	ModePulse   Mode = 3
)

// AllModes returns all lighting modes in wire order.
func AllModes() []Mode {
	return []Mode{ModeSolid, ModeFade, ModeRainbow, ModePulse}
}

// String returns the lower-case mode name used by the REST and MQTT surfaces.
func (m Mode) String() string {
	switch m {
	case ModeSolid:
		return "solid"
	case ModeFade:
		return "fade"
	case ModeRainbow:
		return "rainbow"
	case ModePulse:
		return "pulse"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool {
	return m <= ModePulse
}

// ModeFromByte decodes a mode byte reported by a device.
// Values above Pulse are clamped to Pulse.
func ModeFromByte(b byte) Mode {
	if b > byte(ModePulse) {
		return ModePulse
	}
	return Mode(b)
}

// ParseMode accepts either a mode name ("rainbow") or its number ("2").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solid", "0":
		return ModeSolid, nil
	case "fade", "1":
		return ModeFade, nil
	case "rainbow", "2":
		return ModeRainbow, nil
	case "pulse", "3":
		return ModePulse, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidCommand, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: mode %d out of range", ErrInvalidCommand, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is the control state of a connected bulb.
// Every numeric field is already in [0,255] by construction.
type State struct {
	Power      bool  `json:"power"`
	Brightness uint8 `json:"brightness"`
	Red        uint8 `json:"red"`
	Green      uint8 `json:"green"`
	Blue       uint8 `json:"blue"`
	Mode       Mode  `json:"mode"`
}

// DefaultState is the state a session starts from before the device
// reports anything: off, full brightness, white, solid.
func DefaultState() State {
	return State{
		Power:      false,
		Brightness: 255,
		Red:        255,
		Green:      255,
		Blue:       255,
		Mode:       ModeSolid,
	}
}

// Normalised returns s with an out-of-range mode clamped to Pulse.
func (s State) Normalised() State {
	if !s.Mode.Valid() {
		s.Mode = ModePulse
	}
	return s
}

// Clamp limits v to the [0,255] range of a single channel byte.
func Clamp(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

// Descriptor is a discovered or remembered bulb.
//
// IsSimulated is fixed at creation and decides which transport may
// service the descriptor. IsConnected is maintained by the registry.
type Descriptor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SignalStrength int       `json:"signal_strength"`
	IsSimulated    bool      `json:"is_simulated"`
	IsConnected    bool      `json:"is_connected"`
	LastSeen       time.Time `json:"last_seen"`
}

// SavedDevice is a bulb the user registered with their account.
// It is owned by the account backend; the core only resolves it into a
// Descriptor so it can be connected.
type SavedDevice struct {
	DeviceID    string     `json:"device_id"`
	DisplayName string     `json:"display_name"`
	RoomLabel   string     `json:"room_label,omitempty"`
	IsSimulated bool       `json:"is_simulated"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// savedSignalStrength is the synthetic signal reported for a saved device
// that has not been seen by a scan in this process.
const savedSignalStrength = -50

// Descriptor converts the saved record into a connectable descriptor.
func (s SavedDevice) Descriptor() Descriptor {
	d := Descriptor{
		ID:             s.DeviceID,
		Name:           s.DisplayName,
		SignalStrength: savedSignalStrength,
		IsSimulated:    s.IsSimulated,
	}
	if s.LastSeen != nil {
		d.LastSeen = *s.LastSeen
	}
	return d
}
