package ble

import "strings"

// GATT profile of the bulb firmware. UUIDs are lower-case canonical form.
const (
	ServiceUUID    = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	PowerUUID      = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	BrightnessUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a9"
	ColorUUID      = "beb5483e-36e1-4688-b7f5-ea07361b26aa"
	ModeUUID       = "beb5483e-36e1-4688-b7f5-ea07361b26ab"
	StatusUUID     = "beb5483e-36e1-4688-b7f5-ea07361b26ac"
)

// Role classifies a characteristic of the bulb service.
type Role int

// Characteristic roles.
const (
	RoleUnknown Role = iota
	RolePower
	RoleBrightness
	RoleColor
	RoleMode
	RoleStatus
)

// controlRoles are read during connect to seed the initial state.
var controlRoles = []Role{RolePower, RoleBrightness, RoleColor, RoleMode}

func (r Role) String() string {
	switch r {
	case RolePower:
		return "power"
	case RoleBrightness:
		return "brightness"
	case RoleColor:
		return "color"
	case RoleMode:
		return "mode"
	case RoleStatus:
		return "status"
	default:
		return "unknown"
	}
}

// RoleFor classifies a characteristic by UUID. Matching ignores case.
func RoleFor(uuid string) Role {
	switch strings.ToLower(uuid) {
	case PowerUUID:
		return RolePower
	case BrightnessUUID:
		return RoleBrightness
	case ColorUUID:
		return RoleColor
	case ModeUUID:
		return RoleMode
	case StatusUUID:
		return RoleStatus
	default:
		return RoleUnknown
	}
}
