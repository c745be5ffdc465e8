package ble

import (
	"fmt"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// StatusLength is the size of the packed status payload:
// [power, brightness, red, green, blue, mode].
const StatusLength = 6

// EncodeCommand returns the characteristic a command writes to and its
// raw payload.
func EncodeCommand(cmd device.Command) (Role, []byte, error) {
	switch cmd.Kind {
	case device.CommandSetPower:
		return RolePower, []byte{boolByte(cmd.Power)}, nil
	case device.CommandSetBrightness:
		return RoleBrightness, []byte{cmd.Level}, nil
	case device.CommandSetColor:
		return RoleColor, []byte{cmd.Red, cmd.Green, cmd.Blue}, nil
	case device.CommandSetMode:
		if !cmd.Mode.Valid() {
			return RoleUnknown, nil, fmt.Errorf("%w: mode %d out of range", device.ErrInvalidCommand, uint8(cmd.Mode))
		}
		return RoleMode, []byte{byte(cmd.Mode)}, nil
	default:
		return RoleUnknown, nil, fmt.Errorf("%w: unknown kind %q", device.ErrInvalidCommand, cmd.Kind)
	}
}

// DecodeStatus unpacks a status notification. Bytes past the sixth are
// ignored; mode values above Pulse clamp to Pulse.
func DecodeStatus(b []byte) (device.State, error) {
	if len(b) < StatusLength {
		return device.State{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortStatus, len(b), StatusLength)
	}
	return device.State{
		Power:      b[0] != 0,
		Brightness: b[1],
		Red:        b[2],
		Green:      b[3],
		Blue:       b[4],
		Mode:       device.ModeFromByte(b[5]),
	}, nil
}

// EncodeStatus packs s the way the firmware reports it.
func EncodeStatus(s device.State) []byte {
	return []byte{boolByte(s.Power), s.Brightness, s.Red, s.Green, s.Blue, byte(s.Mode)}
}

// decodeField merges an initial characteristic read into s. Payloads that
// are too short leave s untouched and report false.
func decodeField(role Role, b []byte, s *device.State) bool {
	switch role {
	case RolePower:
		if len(b) < 1 {
			return false
		}
		s.Power = b[0] != 0
	case RoleBrightness:
		if len(b) < 1 {
			return false
		}
		s.Brightness = b[0]
	case RoleColor:
		if len(b) < 3 {
			return false
		}
		s.Red, s.Green, s.Blue = b[0], b[1], b[2]
	case RoleMode:
		if len(b) < 1 {
			return false
		}
		s.Mode = device.ModeFromByte(b[0])
	default:
		return false
	}
	return true
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
