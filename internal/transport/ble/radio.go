package ble

import "context"

// Advertisement is one sighting reported by a Radio scan.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

// Radio is the platform BLE central. NewTinyGoRadio adapts
// tinygo.org/x/bluetooth; tests use an in-memory fake.
type Radio interface {
	// Enable powers up the adapter. Safe to call more than once.
	Enable() error

	// Scan reports peripherals advertising serviceUUID until ctx ends,
	// then stops the platform scan and returns. fn is called from one
	// goroutine and may see the same address more than once.
	Scan(ctx context.Context, serviceUUID string, fn func(Advertisement)) error

	// Connect opens a connection to an address seen by a previous scan.
	Connect(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is a connected remote device.
type Peripheral interface {
	// DiscoverServices returns the services matching uuids.
	DiscoverServices(uuids []string) ([]Service, error)

	// Disconnect drops the connection. Idempotent.
	Disconnect() error

	// Disconnected is closed when the connection drops for any reason.
	Disconnected() <-chan struct{}
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string

	// DiscoverCharacteristics returns the characteristics matching uuids;
	// nil returns all of them.
	DiscoverCharacteristics(uuids []string) ([]Characteristic, error)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Read() ([]byte, error)

	// Write performs a write with response.
	Write(p []byte) error

	EnableNotifications(fn func([]byte)) error
}
