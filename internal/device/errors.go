package device

import "errors"

// Domain errors shared by the transports, sessions and the control facade.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrWrongMode) {
//	    // descriptor belongs to the other transport
//	}
var (
	// ErrUnreachable is returned when the target cannot be found or is out of range.
	ErrUnreachable = errors.New("device: unreachable")

	// ErrWrongMode is returned when a descriptor's simulated flag does not
	// match the transport asked to service it.
	ErrWrongMode = errors.New("device: wrong transport mode")

	// ErrTimeout is returned when the device does not answer within the bound.
	ErrTimeout = errors.New("device: timed out")

	// ErrWriteFailed is returned when the transport rejects a write.
	ErrWriteFailed = errors.New("device: write failed")

	// ErrNotConnected is returned for operations on a torn-down session.
	ErrNotConnected = errors.New("device: not connected")

	// ErrServiceMissing is returned when a device does not expose the bulb
	// service or none of its characteristics. Not recoverable for that attempt.
	ErrServiceMissing = errors.New("device: bulb service missing")

	// ErrConnectInProgress is returned when a transport already has a
	// connection attempt in flight.
	ErrConnectInProgress = errors.New("device: connect already in progress")

	// ErrSuperseded is returned to the caller of a scan or connect that was
	// cancelled by a newer request or a mode change. It is not a failure.
	ErrSuperseded = errors.New("device: superseded by a newer request")

	// ErrInvalidCommand is returned when a command cannot be built or validated.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrDeviceNotFound is returned when a device ID is not known.
	ErrDeviceNotFound = errors.New("device: not found")
)
