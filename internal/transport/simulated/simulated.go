package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/transport"
)

// Simulated transport defaults.
const (
	DefaultDiscoveryDelay = 1500 * time.Millisecond
	DefaultEmitInterval   = 250 * time.Millisecond
	DefaultScanWindow     = 5 * time.Second
	DefaultConnectDelay   = 1 * time.Second

	// fleetSize is the number of simulated bulbs.
	fleetSize = 3

	// baseSignal is the RSSI of the first bulb; each next one is 10 dB weaker.
	baseSignal = -45
)

// fleetNames are the display names of the simulated bulbs, in slot order.
var fleetNames = [fleetSize]string{
	"Smart Bulb (Simulated)",
	"Living Room Light (Simulated)",
	"Bedroom Light (Simulated)",
}

// Logger defines the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// IdentityStore persists the simulated bulb IDs so saved simulated bulbs
// keep resolving across restarts. Satisfied by *settings.Store.
type IdentityStore interface {
	SimulatedIdentities(ctx context.Context) ([]string, error)
	SaveSimulatedIdentities(ctx context.Context, ids []string) error
}

// Options configures the simulated transport.
type Options struct {
	// DiscoveryDelay models radio latency before the first bulb appears.
	DiscoveryDelay time.Duration

	// EmitInterval separates consecutive discoveries within a scan.
	EmitInterval time.Duration

	// ScanWindow is used when Scan is called with a zero window.
	ScanWindow time.Duration

	// ConnectDelay models the connection handshake.
	ConnectDelay time.Duration

	// CommandDelay models the write round trip. Zero acks immediately.
	CommandDelay time.Duration

	// Identities persists bulb IDs. If nil, IDs live for the process only.
	Identities IdentityStore

	// Logger is optional.
	Logger Logger
}

// DefaultOptions returns the timings of the reference simulator.
func DefaultOptions() Options {
	return Options{
		DiscoveryDelay: DefaultDiscoveryDelay,
		EmitInterval:   DefaultEmitInterval,
		ScanWindow:     DefaultScanWindow,
		ConnectDelay:   DefaultConnectDelay,
	}
}

// Transport is an in-process fake bulb backend.
//
// It emits three bulbs with persisted identities, accepts any simulated
// descriptor after a short delay and applies commands to an in-memory
// state. State updates are emitted only in answer to Send.
//
// Thread Safety: All methods are safe for concurrent use.
type Transport struct {
	opts   Options
	logger Logger
	guard  transport.ConnectGuard
	newID  func() string

	idMu sync.Mutex
	ids  []string

	mu       sync.Mutex
	links    map[*link]struct{}
	failures map[string]error
	closed   bool
}

// New creates a simulated transport.
func New(opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		opts:     opts,
		logger:   logger,
		newID:    uuid.NewString,
		links:    make(map[*link]struct{}),
		failures: make(map[string]error),
	}
}

// Kind implements transport.Transport.
func (t *Transport) Kind() transport.Kind {
	return transport.KindSimulated
}

// Identities returns the simulated bulb IDs, loading them from the store
// on first use. A fresh set is generated and saved only when fewer than
// three are stored.
func (t *Transport) Identities(ctx context.Context) ([]string, error) {
	t.idMu.Lock()
	defer t.idMu.Unlock()

	if len(t.ids) == fleetSize {
		return append([]string(nil), t.ids...), nil
	}

	var stored []string
	if t.opts.Identities != nil {
		var err error
		stored, err = t.opts.Identities.SimulatedIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading simulated identities: %w", err)
		}
	}

	if len(stored) >= fleetSize {
		t.ids = append([]string(nil), stored[:fleetSize]...)
		return append([]string(nil), t.ids...), nil
	}

	ids := make([]string, fleetSize)
	for i := range ids {
		ids[i] = t.newID()
	}
	if t.opts.Identities != nil {
		if err := t.opts.Identities.SaveSimulatedIdentities(ctx, ids); err != nil {
			return nil, fmt.Errorf("saving simulated identities: %w", err)
		}
	}
	t.logger.Info("generated simulated bulb identities", "count", len(ids))

	t.ids = ids
	return append([]string(nil), t.ids...), nil
}

// Scan implements transport.Transport.
func (t *Transport) Scan(ctx context.Context, window time.Duration) (<-chan device.Descriptor, error) {
	ids, err := t.Identities(ctx)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = t.opts.ScanWindow
	}

	out := make(chan device.Descriptor)
	go t.runScan(ctx, window, ids, out)
	return out, nil
}

// runScan emits the fleet, then idles until the window closes.
func (t *Transport) runScan(ctx context.Context, window time.Duration, ids []string, out chan<- device.Descriptor) {
	defer close(out)

	windowTimer := time.NewTimer(window)
	defer windowTimer.Stop()

	if !wait(ctx, windowTimer.C, t.opts.DiscoveryDelay) {
		return
	}

	for i, id := range ids {
		if i > 0 && !wait(ctx, windowTimer.C, t.opts.EmitInterval) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		d := device.Descriptor{
			ID:             id,
			Name:           fleetNames[i],
			SignalStrength: baseSignal - i*10,
			IsSimulated:    true,
			LastSeen:       time.Now(),
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		case <-windowTimer.C:
			return
		}
	}

	select {
	case <-ctx.Done():
	case <-windowTimer.C:
	}
}

// wait sleeps for d. Returns false if ctx or the scan window ends first.
func wait(ctx context.Context, window <-chan time.Time, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-window:
		return false
	}
}

// Connect implements transport.Transport. Any simulated descriptor is
// accepted; real descriptors fail immediately with device.ErrWrongMode.
func (t *Transport) Connect(ctx context.Context, d device.Descriptor) (transport.Link, error) {
	if !d.IsSimulated {
		return nil, fmt.Errorf("%w: %s is not a simulated bulb", device.ErrWrongMode, d.ID)
	}

	if err := t.guard.Acquire(); err != nil {
		return nil, err
	}
	defer t.guard.Release()

	if t.opts.ConnectDelay > 0 {
		timer := time.NewTimer(t.opts.ConnectDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to %s: %w", d.ID, transport.ContextError(ctx))
		}
	} else if ctx.Err() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", d.ID, transport.ContextError(ctx))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("%w: transport closed", device.ErrUnreachable)
	}

	d.IsConnected = true
	l := &link{
		owner:   t,
		desc:    d,
		state:   device.DefaultState(),
		updates: make(chan device.State, 1),
		done:    make(chan struct{}),
	}
	t.links[l] = struct{}{}

	t.logger.Debug("simulated bulb connected", "device_id", d.ID)
	return l, nil
}

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect(tl transport.Link) error {
	l, ok := t.own(tl)
	if !ok {
		return nil
	}
	t.mu.Lock()
	delete(t.links, l)
	t.mu.Unlock()

	if l.close() {
		t.logger.Debug("simulated bulb disconnected", "device_id", l.desc.ID)
	}
	return nil
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, tl transport.Link, cmd device.Command) error {
	l, ok := t.own(tl)
	if !ok || l.isClosed() {
		return device.ErrNotConnected
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := t.takeFailure(l.desc.ID); err != nil {
		return err
	}

	if t.opts.CommandDelay > 0 {
		timer := time.NewTimer(t.opts.CommandDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("sending %s: %w", cmd, transport.ContextError(ctx))
		case <-l.done:
			return device.ErrNotConnected
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed() {
		return device.ErrNotConnected
	}
	l.state = cmd.Apply(l.state)
	transport.Offer(l.updates, l.state)
	return nil
}

// Updates implements transport.Transport.
func (t *Transport) Updates(tl transport.Link) <-chan device.State {
	l, ok := t.own(tl)
	if !ok {
		return nil
	}
	return l.updates
}

// FailNext makes the next Send to deviceID fail with err, without
// touching the simulated state. A nil err injects device.ErrWriteFailed.
func (t *Transport) FailNext(deviceID string, err error) {
	if err == nil {
		err = device.ErrWriteFailed
	}
	t.mu.Lock()
	t.failures[deviceID] = err
	t.mu.Unlock()
}

func (t *Transport) takeFailure(deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err, ok := t.failures[deviceID]
	if !ok {
		return nil
	}
	delete(t.failures, deviceID)
	return err
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for l := range t.links {
		links = append(links, l)
	}
	t.links = make(map[*link]struct{})
	t.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	return nil
}

// own returns the concrete link if it was opened by this transport.
func (t *Transport) own(tl transport.Link) (*link, bool) {
	l, ok := tl.(*link)
	if !ok || l == nil || l.owner != t {
		return nil, false
	}
	return l, true
}

// link is an open connection to one simulated bulb.
type link struct {
	owner *Transport
	desc  device.Descriptor

	mu    sync.Mutex
	state device.State

	updates   chan device.State
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) Device() device.Descriptor  { return l.desc }
func (l *link) InitialState() device.State { return device.DefaultState() }
func (l *link) Done() <-chan struct{}      { return l.done }

// close tears the link down. Returns true for the call that closed it.
func (l *link) close() bool {
	closed := false
	l.closeOnce.Do(func() {
		close(l.done)
		closed = true
	})
	return closed
}

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
