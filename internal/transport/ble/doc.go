// Package ble implements the transport for real bulbs over Bluetooth Low
// Energy.
//
// Discovery reports only peripherals advertising the bulb service. A
// connect walks the phase machine:
//
//	Idle → [Scanning →] Discovered → Connecting → ServiceDiscovery →
//	CharacteristicDiscovery → Ready → Disconnected | Failed
//
// Scanning is entered only for a device this process has not seen yet.
// Characteristics are classified by UUID into power, brightness, color,
// mode and status; any subset is usable, none at all fails the attempt.
// Initial values are read from the four control characteristics and the
// status characteristic is subscribed. Each status notification replaces
// the device state wholesale.
//
// # Wire Format
//
//	power       1 byte   0 or 1
//	brightness  1 byte   0-255
//	color       3 bytes  R, G, B
//	mode        1 byte   0 solid, 1 fade, 2 rainbow, 3 pulse
//	status      6 bytes  power, brightness, R, G, B, mode
//
// The Radio interface isolates the platform stack; NewTinyGoRadio adapts
// tinygo.org/x/bluetooth.
package ble
