package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// Kind identifies a transport implementation.
type Kind string

// Transport kinds.
const (
	KindSimulated Kind = "simulated"
	KindBLE       Kind = "ble"
)

// Simulated reports whether descriptors serviced by this kind are simulated.
func (k Kind) Simulated() bool {
	return k == KindSimulated
}

// Transport is the capability contract every bulb backend satisfies.
//
// Blocking operations take a context; cancelling it abandons the operation
// and releases what it holds. Results are delivered by return value, so a
// caller that must not block runs the call on its own goroutine.
type Transport interface {
	// Kind identifies the implementation.
	Kind() Kind

	// Scan starts discovery and returns a channel of descriptors. The
	// channel closes when window elapses (zero means the transport's
	// default) or ctx is cancelled. An ID is emitted at most once per scan.
	Scan(ctx context.Context, window time.Duration) (<-chan device.Descriptor, error)

	// Connect opens a link to d. Errors wrap device.ErrUnreachable,
	// device.ErrWrongMode, device.ErrTimeout, device.ErrServiceMissing or
	// device.ErrConnectInProgress. At most one attempt is in flight.
	Connect(ctx context.Context, d device.Descriptor) (Link, error)

	// Disconnect closes the link. Idempotent; always succeeds.
	Disconnect(link Link) error

	// Send transmits one command. A nil error is the acknowledgement.
	// Errors wrap device.ErrNotConnected, device.ErrWriteFailed or
	// device.ErrTimeout.
	Send(ctx context.Context, link Link, cmd device.Command) error

	// Updates returns the device-reported state stream for link. Values
	// arrive while the link is open; consumers stop at link.Done().
	Updates(link Link) <-chan device.State

	// Close releases every link and platform handle.
	Close() error
}

// Link is an open connection to one device.
type Link interface {
	// Device returns the descriptor the link was opened for.
	Device() device.Descriptor

	// InitialState is the state read from the device during connect.
	InitialState() device.State

	// Done is closed when the link is torn down, by either side.
	Done() <-chan struct{}
}

// Offer delivers s on a one-slot channel, replacing any value the consumer
// has not taken yet. Each channel must have a single producer.
func Offer(ch chan device.State, s device.State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// ConnectGuard admits a single connection attempt at a time.
type ConnectGuard struct {
	Busy atomic.Bool
}

// Acquire claims the guard. Returns device.ErrConnectInProgress when
// another attempt holds it.
func (g *ConnectGuard) Acquire() error {
	if !g.Busy.CompareAndSwap(false, true) {
		return device.ErrConnectInProgress
	}
	return nil
}

// Release frees the guard.
func (g *ConnectGuard) Release() {
	g.Busy.Store(false)
}

// ContextError maps a finished context onto the device error taxonomy.
// A deadline becomes device.ErrTimeout; a cancellation becomes
// device.ErrSuperseded.
func ContextError(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return device.ErrTimeout
	case context.Canceled:
		return device.ErrSuperseded
	default:
		return nil
	}
}
