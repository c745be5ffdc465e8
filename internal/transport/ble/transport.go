package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/transport"
)

// BLE transport defaults.
const (
	DefaultScanWindow     = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Second

	// unnamedDevice labels peripherals that advertise no local name.
	unnamedDevice = "Unknown Device"
)

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

// Options configures the BLE transport.
type Options struct {
	// ScanWindow is used when Scan is called with a zero window.
	ScanWindow time.Duration

	// ConnectTimeout bounds a whole connect, from locating the device to Ready.
	ConnectTimeout time.Duration

	// CommandTimeout bounds one characteristic write.
	CommandTimeout time.Duration

	// OnPhase observes every phase change of every connection attempt.
	OnPhase func(deviceID string, from, to Phase)

	Logger Logger
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		ScanWindow:     DefaultScanWindow,
		ConnectTimeout: DefaultConnectTimeout,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Transport talks to real bulbs through a Radio.
//
// Thread Safety: All methods are safe for concurrent use. Scans are
// serialised because the platform supports one at a time.
type Transport struct {
	radio  Radio
	opts   Options
	logger Logger
	guard  transport.ConnectGuard

	// scanSlot admits one radio scan at a time.
	scanSlot chan struct{}

	mu     sync.Mutex
	seen   map[string]struct{}
	links  map[*link]struct{}
	closed bool
}

// New creates a BLE transport over radio.
func New(radio Radio, opts Options) *Transport {
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = DefaultScanWindow
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		radio:    radio,
		opts:     opts,
		logger:   logger,
		scanSlot: make(chan struct{}, 1),
		seen:     make(map[string]struct{}),
		links:    make(map[*link]struct{}),
	}
}

// Kind implements transport.Transport.
func (t *Transport) Kind() transport.Kind {
	return transport.KindBLE
}

// Scan implements transport.Transport. Only peripherals advertising the
// bulb service are reported, each at most once per scan.
func (t *Transport) Scan(ctx context.Context, window time.Duration) (<-chan device.Descriptor, error) {
	if err := t.radio.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrUnreachable, err)
	}
	if window <= 0 {
		window = t.opts.ScanWindow
	}

	out := make(chan device.Descriptor, 8)
	go func() {
		defer close(out)

		scanCtx, cancel := context.WithTimeout(ctx, window)
		defer cancel()

		if !t.acquireScan(scanCtx) {
			return
		}
		defer t.releaseScan()

		emitted := make(map[string]struct{})
		err := t.radio.Scan(scanCtx, ServiceUUID, func(adv Advertisement) {
			t.remember(adv.Address)
			if _, dup := emitted[adv.Address]; dup {
				return
			}
			emitted[adv.Address] = struct{}{}

			name := adv.Name
			if name == "" {
				name = unnamedDevice
			}
			d := device.Descriptor{
				ID:             adv.Address,
				Name:           name,
				SignalStrength: adv.RSSI,
				LastSeen:       time.Now(),
			}
			select {
			case out <- d:
			case <-scanCtx.Done():
			}
		})
		if err != nil {
			t.logger.Warn("ble scan failed", "error", err)
		}
	}()
	return out, nil
}

func (t *Transport) acquireScan(ctx context.Context) bool {
	select {
	case t.scanSlot <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) releaseScan() {
	<-t.scanSlot
}

func (t *Transport) remember(address string) {
	t.mu.Lock()
	t.seen[address] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) known(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[address]
	return ok
}

// Connect implements transport.Transport. It walks one attempt through
// the phase machine; any failure releases the peripheral and ends in
// PhaseFailed.
func (t *Transport) Connect(ctx context.Context, d device.Descriptor) (transport.Link, error) {
	if d.IsSimulated {
		return nil, fmt.Errorf("%w: %s is a simulated bulb", device.ErrWrongMode, d.ID)
	}
	if err := t.guard.Acquire(); err != nil {
		return nil, err
	}
	defer t.guard.Release()

	if err := t.radio.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrUnreachable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	m := newPhaseMachine(d.ID, t.opts.OnPhase)
	a := &attempt{t: t, ctx: ctx, m: m, desc: d}

	l, err := a.run()
	if err != nil {
		if a.peripheral != nil {
			_ = a.peripheral.Disconnect()
		}
		m.end(PhaseFailed)
		if errors.Is(err, device.ErrSuperseded) {
			t.logger.Debug("ble connect superseded", "device_id", d.ID)
		} else {
			t.logger.Warn("ble connect failed", "device_id", d.ID, "error", err)
		}
		return nil, err
	}
	return l, nil
}

// attempt carries the partial resources of one connect.
type attempt struct {
	t          *Transport
	ctx        context.Context
	m          *phaseMachine
	desc       device.Descriptor
	peripheral Peripheral
}

func (a *attempt) run() (*link, error) {
	id := a.desc.ID

	if a.t.known(id) {
		_ = a.m.advance(PhaseDiscovered)
	} else {
		_ = a.m.advance(PhaseScanning)
		if err := a.t.locate(a.ctx, id); err != nil {
			return nil, err
		}
		_ = a.m.advance(PhaseDiscovered)
	}

	_ = a.m.advance(PhaseConnecting)
	p, err := a.t.radio.Connect(a.ctx, id)
	if err != nil {
		if ctxErr := transport.ContextError(a.ctx); ctxErr != nil {
			return nil, fmt.Errorf("connecting to %s: %w", id, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", device.ErrUnreachable, id, err)
	}
	a.peripheral = p
	if err := a.checkpoint(); err != nil {
		return nil, err
	}

	_ = a.m.advance(PhaseServiceDiscovery)
	services, err := p.DiscoverServices([]string{ServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", device.ErrServiceMissing, id, err)
	}
	var svc Service
	for _, s := range services {
		if strings.EqualFold(s.UUID(), ServiceUUID) {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", device.ErrServiceMissing, id)
	}
	if err := a.checkpoint(); err != nil {
		return nil, err
	}

	_ = a.m.advance(PhaseCharacteristicDiscovery)
	discovered, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", device.ErrServiceMissing, id, err)
	}
	chars := make(map[Role]Characteristic, 5)
	for _, c := range discovered {
		if role := RoleFor(c.UUID()); role != RoleUnknown {
			chars[role] = c
		}
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", device.ErrServiceMissing, id, ErrNoCharacteristics)
	}
	for _, role := range []Role{RolePower, RoleBrightness, RoleColor, RoleMode, RoleStatus} {
		if _, ok := chars[role]; !ok {
			a.t.logger.Warn("bulb characteristic missing", "device_id", id, "role", role.String())
		}
	}

	initial := a.readInitial(chars)
	if err := a.checkpoint(); err != nil {
		return nil, err
	}

	desc := a.desc
	desc.IsConnected = true
	desc.LastSeen = time.Now()
	l := &link{
		owner:      a.t,
		desc:       desc,
		initial:    initial,
		machine:    a.m,
		peripheral: p,
		chars:      chars,
		updates:    make(chan device.State, 1),
		done:       make(chan struct{}),
		writeSlot:  make(chan struct{}, 1),
	}

	if status, ok := chars[RoleStatus]; ok {
		if err := status.EnableNotifications(l.handleStatus); err != nil {
			a.t.logger.Warn("status notifications unavailable", "device_id", id, "error", err)
		}
	}

	a.t.mu.Lock()
	if a.t.closed {
		a.t.mu.Unlock()
		return nil, fmt.Errorf("%w: transport closed", device.ErrUnreachable)
	}
	a.t.links[l] = struct{}{}
	a.t.mu.Unlock()

	_ = a.m.advance(PhaseReady)
	go l.watch()

	a.t.logger.Info("ble bulb ready", "device_id", id, "characteristics", len(chars))
	return l, nil
}

// checkpoint aborts the attempt once its context has ended.
func (a *attempt) checkpoint() error {
	if err := transport.ContextError(a.ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", a.desc.ID, err)
	}
	return nil
}

// readInitial seeds the state from the control characteristics. Failed
// or short reads keep the default for that field.
func (a *attempt) readInitial(chars map[Role]Characteristic) device.State {
	s := device.DefaultState()
	for _, role := range controlRoles {
		c, ok := chars[role]
		if !ok {
			continue
		}
		b, err := c.Read()
		if err != nil {
			a.t.logger.Warn("initial read failed", "device_id", a.desc.ID, "role", role.String(), "error", err)
			continue
		}
		if !decodeField(role, b, &s) {
			a.t.logger.Warn("initial read too short", "device_id", a.desc.ID, "role", role.String(), "bytes", len(b))
		}
	}
	return s
}

// locate scans until id is sighted. A device that does not show up is
// unreachable; a cancelled attempt is superseded.
func (t *Transport) locate(ctx context.Context, id string) error {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !t.acquireScan(scanCtx) {
		return t.locateError(ctx, id)
	}
	defer t.releaseScan()

	var found atomic.Bool
	err := t.radio.Scan(scanCtx, ServiceUUID, func(adv Advertisement) {
		t.remember(adv.Address)
		if adv.Address == id {
			found.Store(true)
			cancel()
		}
	})
	if found.Load() {
		return nil
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %v", device.ErrUnreachable, id, err)
	}
	return t.locateError(ctx, id)
}

func (t *Transport) locateError(ctx context.Context, id string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("locating %s: %w", id, device.ErrSuperseded)
	}
	return fmt.Errorf("%w: %s not in range", device.ErrUnreachable, id)
}

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect(tl transport.Link) error {
	l, ok := t.own(tl)
	if !ok {
		return nil
	}
	l.teardown(PhaseDisconnected)
	return nil
}

// Send implements transport.Transport. Writes on one link are serialised
// and each is bounded by the command timeout. Local state is not touched.
func (t *Transport) Send(ctx context.Context, tl transport.Link, cmd device.Command) error {
	l, ok := t.own(tl)
	if !ok || l.isClosed() {
		return device.ErrNotConnected
	}

	role, payload, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c := l.characteristic(role)
	if c == nil {
		if l.isClosed() {
			return device.ErrNotConnected
		}
		return fmt.Errorf("%w: %s characteristic not available", device.ErrWriteFailed, role)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.CommandTimeout)
	defer cancel()

	select {
	case l.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("sending %s: %w", cmd, transport.ContextError(ctx))
	case <-l.done:
		return device.ErrNotConnected
	}

	result := make(chan error, 1)
	go func() {
		// The slot is held until the radio returns, even if the caller gave up.
		defer func() { <-l.writeSlot }()
		result <- c.Write(payload)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %s: %v", device.ErrWriteFailed, cmd, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending %s: %w", cmd, transport.ContextError(ctx))
	case <-l.done:
		return device.ErrNotConnected
	}
}

// Updates implements transport.Transport.
func (t *Transport) Updates(tl transport.Link) <-chan device.State {
	l, ok := t.own(tl)
	if !ok {
		return nil
	}
	return l.updates
}

// Phase returns the phase of the connection behind tl. Links from another
// transport report PhaseIdle.
func (t *Transport) Phase(tl transport.Link) Phase {
	l, ok := t.own(tl)
	if !ok {
		return PhaseIdle
	}
	return l.machine.current()
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	for _, l := range links {
		l.teardown(PhaseDisconnected)
	}
	return nil
}

func (t *Transport) own(tl transport.Link) (*link, bool) {
	l, ok := tl.(*link)
	if !ok || l == nil || l.owner != t {
		return nil, false
	}
	return l, true
}

func (t *Transport) forget(l *link) {
	t.mu.Lock()
	delete(t.links, l)
	t.mu.Unlock()
}

// link is a Ready connection to one bulb.
type link struct {
	owner      *Transport
	desc       device.Descriptor
	initial    device.State
	machine    *phaseMachine
	peripheral Peripheral

	mu    sync.Mutex
	chars map[Role]Characteristic

	updates   chan device.State
	done      chan struct{}
	closeOnce sync.Once
	writeSlot chan struct{}
}

func (l *link) Device() device.Descriptor  { return l.desc }
func (l *link) InitialState() device.State { return l.initial }
func (l *link) Done() <-chan struct{}      { return l.done }

func (l *link) characteristic(role Role) Characteristic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chars[role]
}

// handleStatus decodes a status notification into a wholesale update.
func (l *link) handleStatus(b []byte) {
	s, err := DecodeStatus(b)
	if err != nil {
		l.owner.logger.Warn("dropping status notification", "device_id", l.desc.ID, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chars == nil {
		return
	}
	transport.Offer(l.updates, s)
}

// watch tears the link down when the peripheral drops.
func (l *link) watch() {
	select {
	case <-l.peripheral.Disconnected():
		l.owner.logger.Info("ble bulb disconnected", "device_id", l.desc.ID)
		l.teardown(PhaseDisconnected)
	case <-l.done:
	}
}

// teardown invalidates every characteristic and releases the peripheral.
func (l *link) teardown(final Phase) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.chars = nil
		l.mu.Unlock()

		l.machine.end(final)
		close(l.done)
		_ = l.peripheral.Disconnect()
		l.owner.forget(l)
	})
}

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
