package ble

import "errors"

// Errors specific to the BLE transport. Failures a caller can act on are
// reported with the device package taxonomy; these wrap the detail.
var (
	// ErrShortStatus is returned when a status payload has fewer than 6 bytes.
	ErrShortStatus = errors.New("ble: status payload too short")

	// ErrUnknownAddress is returned when connecting to an address the radio never saw.
	ErrUnknownAddress = errors.New("ble: unknown address")

	// ErrInvalidTransition is returned for a phase change the machine does not allow.
	ErrInvalidTransition = errors.New("ble: invalid phase transition")

	// ErrNoCharacteristics is returned when the bulb service exposes none of the five characteristics.
	ErrNoCharacteristics = errors.New("ble: no bulb characteristics")
)
