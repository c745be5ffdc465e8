// Package device holds the smart-bulb domain model shared by every other
// package: descriptors, control state, commands, the error taxonomy and
// the ephemeral device registry.
//
// # Key Types
//
//   - Descriptor: a discovered or remembered bulb
//   - State: power, brightness, colour and mode of a connected bulb
//   - Command: one control instruction (power, brightness, colour, mode)
//   - SavedDevice: a bulb registered with the user's account
//   - Registry: the descriptors seen by the current scan session
//
// # Invariants
//
// Every numeric state field is a byte, so values are in [0,255] by
// construction. Command constructors clamp their int inputs before the
// value can reach a transport; values received from a device are bytes
// already and modes above Pulse are clamped on decode.
//
// # Usage
//
//	reg := device.NewRegistry()
//	reg.SetLogger(log)
//
//	isNew := reg.Upsert(device.Descriptor{ID: id, Name: "Desk", SignalStrength: -60})
//
//	cmd := device.SetColor(300, 0, -5) // clamped to (255, 0, 0)
//	next := cmd.Apply(device.DefaultState())
package device
