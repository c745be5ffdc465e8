// Package transport defines the contract shared by the simulated and the
// BLE bulb backends, plus the small helpers both implementations use.
//
// # Implementations
//
//   - simulated: in-process fake bulbs with modelled latency
//   - ble: Bluetooth Low Energy bulbs through a GATT profile
//
// The control facade selects one per operation based on the persisted
// simulator-mode flag.
package transport
