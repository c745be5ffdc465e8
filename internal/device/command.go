package device

import (
	"fmt"
	"math"
	"strings"
)

// CommandKind identifies which part of the bulb state a command touches.
type CommandKind string

// Command kinds. Each maps to exactly one characteristic write on real hardware.
const (
	CommandSetPower      CommandKind = "set_power"
	CommandSetBrightness CommandKind = "set_brightness"
	CommandSetColor      CommandKind = "set_color"
	CommandSetMode       CommandKind = "set_mode"
)

// Command is a single control instruction for a connected bulb.
// Use the constructors; they clamp every numeric input into [0,255].
type Command struct {
	Kind  CommandKind `json:"kind"`
	Power bool        `json:"power,omitempty"`
	Level uint8       `json:"level,omitempty"`
	Red   uint8       `json:"red,omitempty"`
	Green uint8       `json:"green,omitempty"`
	Blue  uint8       `json:"blue,omitempty"`
	Mode  Mode        `json:"mode,omitempty"`
}

// SetPower builds a power command.
func SetPower(on bool) Command {
	return Command{Kind: CommandSetPower, Power: on}
}

// SetBrightness builds a brightness command, clamping level into [0,255].
func SetBrightness(level int) Command {
	return Command{Kind: CommandSetBrightness, Level: Clamp(level)}
}

// SetColor builds a colour command, clamping each channel into [0,255].
func SetColor(red, green, blue int) Command {
	return Command{Kind: CommandSetColor, Red: Clamp(red), Green: Clamp(green), Blue: Clamp(blue)}
}

// SetMode builds a mode command. Unknown modes are clamped to Pulse.
func SetMode(m Mode) Command {
	if !m.Valid() {
		m = ModePulse
	}
	return Command{Kind: CommandSetMode, Mode: m}
}

// Validate checks that the command is well formed.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandSetPower, CommandSetBrightness, CommandSetColor:
		return nil
	case CommandSetMode:
		if !c.Mode.Valid() {
			return fmt.Errorf("%w: mode %d out of range", ErrInvalidCommand, uint8(c.Mode))
		}
		return nil
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
}

// Apply returns s with the command's effect applied. Only the touched
// fields change.
func (c Command) Apply(s State) State {
	switch c.Kind {
	case CommandSetPower:
		s.Power = c.Power
	case CommandSetBrightness:
		s.Brightness = c.Level
	case CommandSetColor:
		s.Red, s.Green, s.Blue = c.Red, c.Green, c.Blue
	case CommandSetMode:
		s.Mode = c.Mode
	}
	return s
}

// String renders the command for logs.
func (c Command) String() string {
	switch c.Kind {
	case CommandSetPower:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Power)
	case CommandSetBrightness:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Level)
	case CommandSetColor:
		return fmt.Sprintf("%s(%d,%d,%d)", c.Kind, c.Red, c.Green, c.Blue)
	case CommandSetMode:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Mode)
	default:
		return string(c.Kind)
	}
}

// ParseCommand builds a command from a loosely typed parameter map, as
// received over REST or MQTT. Accepted shapes:
//
//	power:      {"on": true}
//	brightness: {"level": 128}
//	color:      {"red": 255, "green": 0, "blue": 0}
//	mode:       {"mode": "rainbow"} or {"mode": 2}
//
// Both the short names above and the CommandKind values are accepted.
func ParseCommand(kind string, params map[string]any) (Command, error) {
	switch CommandKind(normaliseKind(kind)) {
	case CommandSetPower:
		on, ok := params["on"].(bool)
		if !ok {
			return Command{}, fmt.Errorf("%w: power requires boolean 'on'", ErrInvalidCommand)
		}
		return SetPower(on), nil

	case CommandSetBrightness:
		level, err := intParam(params, "level")
		if err != nil {
			return Command{}, err
		}
		return SetBrightness(level), nil

	case CommandSetColor:
		r, err := intParam(params, "red")
		if err != nil {
			return Command{}, err
		}
		g, err := intParam(params, "green")
		if err != nil {
			return Command{}, err
		}
		b, err := intParam(params, "blue")
		if err != nil {
			return Command{}, err
		}
		return SetColor(r, g, b), nil

	case CommandSetMode:
		switch v := params["mode"].(type) {
		case string:
			m, err := ParseMode(v)
			if err != nil {
				return Command{}, err
			}
			return SetMode(m), nil
		case float64:
			if math.IsNaN(v) || v < 0 || v > float64(ModePulse) || v != float64(int(v)) {
				return Command{}, fmt.Errorf("%w: mode %v out of range", ErrInvalidCommand, v)
			}
			return SetMode(Mode(v)), nil
		default:
			return Command{}, fmt.Errorf("%w: mode requires 'mode'", ErrInvalidCommand)
		}

	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, kind)
	}
}

// normaliseKind maps short names ("power") onto CommandKind values.
func normaliseKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case "power", "on_off":
		return string(CommandSetPower)
	case "brightness", "dim":
		return string(CommandSetBrightness)
	case "color", "colour", "rgb":
		return string(CommandSetColor)
	case "mode", "effect":
		return string(CommandSetMode)
	}
	return k
}

// intParam reads a JSON number parameter. Out-of-range values saturate at
// the byte range here, before any integer conversion can wrap them; the
// constructors clamp again. NaN and infinities are rejected.
func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: '%s' must be a finite number", ErrInvalidCommand, key)
		}
		return int(math.Max(0, math.Min(v, math.MaxUint8))), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: numeric '%s' is required", ErrInvalidCommand, key)
	}
}
