package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/dispatch"
	"github.com/nerrad567/smartbulb-core/internal/session"
	"github.com/nerrad567/smartbulb-core/internal/transport"
)

// DefaultRediscoveryWindow bounds the scan that looks for a saved real bulb.
const DefaultRediscoveryWindow = 10 * time.Second

// Scan finish reasons.
const (
	ReasonWindowElapsed = "window_elapsed"
	ReasonStopped       = "stopped"
	ReasonScanError     = "error"
)

// ErrClosed is returned by operations on a closed facade.
var ErrClosed = errors.New("control: facade closed")

// Logger defines the logging interface used by the facade.
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

// ModeSource is the persisted simulator-mode flag with change
// notification. Satisfied by *settings.Store.
type ModeSource interface {
	SimulatorMode(ctx context.Context) (bool, error)
	Watch(fn func(simulator bool)) (cancel func())
}

// Options configures a Facade.
type Options struct {
	// Simulated is required.
	Simulated transport.Transport

	// Real may be nil when no radio is available; real-mode scans and
	// connects then fail with device.ErrUnreachable.
	Real transport.Transport

	// Mode is required.
	Mode ModeSource

	// ScanWindow is passed to the transport; zero uses its default.
	ScanWindow time.Duration

	// RediscoveryWindow bounds the scan behind ConnectSaved.
	RediscoveryWindow time.Duration

	Logger Logger
}

// operation is an in-flight scan or connect that a newer request, a mode
// change or Close may cancel. done is closed when a connect returns.
type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// newOperation derives the context an operation runs under.
func newOperation(parent context.Context) (*operation, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &operation{cancel: cancel}, ctx
}

// Facade is the single entry point for discovering and controlling bulbs.
//
// It caches the simulator-mode flag and reacts to change notifications:
// a mode change cancels any scan or connect in flight, tears down the
// active session and clears the registry. Every operation routes to the
// transport of the current mode.
//
// At most one scan and one connect are in flight; a newer request cancels
// the older one silently. At most one session is active.
//
// A connect stops the running scan first, since radios scan unreliably
// while a connection is being set up.
//
// Thread Safety: All methods are safe for concurrent use. Subscribers run
// on the delivery goroutine and may call any facade method. A Close from
// a subscriber returns before the events still queued are delivered.
type Facade struct {
	opts     Options
	logger   Logger
	exec     *dispatch.Executor
	registry *device.Registry

	// Guarded by exec.
	simulator bool
	scan      *operation
	connect   *operation
	sess      *session.Session
	closed    bool

	subMu   sync.RWMutex
	subs    map[int]Subscriber
	nextSub int

	stopWatch func()
	wg        sync.WaitGroup
}

// New creates a facade, reading the initial mode from opts.Mode.
func New(ctx context.Context, opts Options) (*Facade, error) {
	if opts.Simulated == nil {
		return nil, errors.New("control: simulated transport is required")
	}
	if opts.Mode == nil {
		return nil, errors.New("control: mode source is required")
	}
	if opts.RediscoveryWindow <= 0 {
		opts.RediscoveryWindow = DefaultRediscoveryWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	simulator, err := opts.Mode.SimulatorMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading simulator mode: %w", err)
	}

	registry := device.NewRegistry()
	registry.SetLogger(logger)

	f := &Facade{
		opts:      opts,
		logger:    logger,
		exec:      dispatch.New(logger),
		registry:  registry,
		simulator: simulator,
		subs:      make(map[int]Subscriber),
	}
	f.stopWatch = opts.Mode.Watch(f.handleModeChange)

	logger.Info("control facade started", "simulator_mode", simulator, "ble_available", opts.Real != nil)
	return f, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers fn for every future event. Call the returned
// function to unsubscribe.
func (f *Facade) Subscribe(fn Subscriber) (unsubscribe func()) {
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subMu.Unlock()

	return func() {
		f.subMu.Lock()
		delete(f.subs, id)
		f.subMu.Unlock()
	}
}

// emit queues ev for delivery. Must be called inside exec.Do.
func (f *Facade) emit(ev Event) {
	ev.SimulatorMode = f.simulator
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	f.exec.Emit(func() { f.publish(ev) })
}

// publish runs on the delivery goroutine.
func (f *Facade) publish(ev Event) {
	f.subMu.RLock()
	subs := make([]Subscriber, 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// =============================================================================
// Mode
// =============================================================================

// SimulatorMode reports the cached mode flag.
func (f *Facade) SimulatorMode() bool {
	var simulator bool
	f.exec.Do(func() { simulator = f.simulator })
	return simulator
}

// handleModeChange tears down everything tied to the old mode.
func (f *Facade) handleModeChange(simulator bool) {
	var (
		changed  bool
		scanOp   *operation
		connOp   *operation
		previous *session.Session
	)
	f.exec.Do(func() {
		if f.closed || f.simulator == simulator {
			return
		}
		changed = true
		f.simulator = simulator
		scanOp, f.scan = f.scan, nil
		if scanOp != nil {
			f.emit(Event{Kind: EventScanFinished, Reason: ReasonStopped, scan: scanOp})
		}
		connOp, f.connect = f.connect, nil
		previous, f.sess = f.sess, nil
		f.registry.Clear()
		f.emit(Event{Kind: EventModeChanged})
	})
	if !changed {
		return
	}

	if scanOp != nil {
		scanOp.cancel()
	}
	if connOp != nil {
		connOp.cancel()
	}
	if previous != nil {
		previous.Close()
	}
	f.logger.Info("transport mode changed", "simulator_mode", simulator)
}

func (f *Facade) transportFor(simulator bool) (transport.Transport, error) {
	if simulator {
		return f.opts.Simulated, nil
	}
	if f.opts.Real == nil {
		return nil, fmt.Errorf("%w: bluetooth transport unavailable", device.ErrUnreachable)
	}
	return f.opts.Real, nil
}

// =============================================================================
// Discovery
// =============================================================================

// Scan starts discovery with the transport of the current mode, clearing
// the registry first. A scan already running is cancelled silently.
// Cancelling ctx stops the scan.
func (f *Facade) Scan(ctx context.Context) error {
	op, scanCtx := newOperation(ctx)
	return f.startScan(scanCtx, op, f.opts.ScanWindow)
}

// startScan runs op as the current scan. scanCtx must be op's context.
func (f *Facade) startScan(scanCtx context.Context, op *operation, window time.Duration) error {
	var (
		previous  *operation
		simulator bool
		err       error
	)
	f.exec.Do(func() {
		if f.closed {
			err = ErrClosed
			return
		}
		previous = f.scan
		f.scan = op
		simulator = f.simulator
		f.registry.Clear()
		f.emit(Event{Kind: EventScanStarted, scan: op})
	})
	if err != nil {
		op.cancel()
		return err
	}
	if previous != nil {
		previous.cancel()
		f.logger.Debug("scan superseded")
	}

	tr, err := f.transportFor(simulator)
	if err != nil {
		f.finishScan(op, ReasonScanError, err)
		return err
	}
	results, err := tr.Scan(scanCtx, window)
	if err != nil {
		f.finishScan(op, ReasonScanError, err)
		return err
	}

	f.wg.Add(1)
	go f.consumeScan(scanCtx, op, results)
	return nil
}

func (f *Facade) consumeScan(ctx context.Context, op *operation, results <-chan device.Descriptor) {
	defer f.wg.Done()

	for d := range results {
		f.exec.Do(func() {
			if f.scan != op {
				return
			}
			if f.registry.Upsert(d) {
				current, _ := f.registry.Get(d.ID)
				f.emit(Event{Kind: EventDeviceDiscovered, Device: current, scan: op})
			}
		})
	}

	reason := ReasonWindowElapsed
	if ctx.Err() != nil {
		reason = ReasonStopped
	}
	f.finishScan(op, reason, nil)
}

// finishScan reports the end of op if it is still the current scan.
func (f *Facade) finishScan(op *operation, reason string, err error) {
	op.cancel()
	f.exec.Do(func() {
		if f.scan != op {
			return
		}
		f.scan = nil
		ev := Event{Kind: EventScanFinished, Reason: reason, scan: op}
		if err != nil {
			ev.Error = err.Error()
		}
		f.emit(ev)
	})
	if err != nil {
		f.logger.Warn("scan failed", "error", err)
	}
}

// StopScan cancels the running scan, if any.
func (f *Facade) StopScan() {
	f.stopScan(nil)
}

// stopScan cancels the running scan when it is only, or any scan when
// only is nil.
func (f *Facade) stopScan(only *operation) {
	var op *operation
	f.exec.Do(func() {
		op = f.scan
		if op == nil || (only != nil && op != only) {
			op = nil
			return
		}
		f.scan = nil
		f.emit(Event{Kind: EventScanFinished, Reason: ReasonStopped, scan: op})
	})
	if op != nil {
		op.cancel()
	}
}

// Scanning reports whether a scan is running.
func (f *Facade) Scanning() bool {
	var scanning bool
	f.exec.Do(func() { scanning = f.scan != nil })
	return scanning
}

// Devices returns the registry contents, strongest signal first.
func (f *Facade) Devices() []device.Descriptor {
	return f.registry.List()
}

// =============================================================================
// Connection
// =============================================================================

// Connect opens a session to a device from the registry. The running
// scan is stopped and the active session, if any, is closed first. A
// connect already in flight is cancelled and resolves with
// device.ErrSuperseded.
//
// Parameters:
//   - ctx: bounds the connection attempt; the session outlives it
//   - id: device ID as reported by a scan
//
// Returns:
//   - *session.Session: the new active session
//   - error: device.ErrDeviceNotFound, device.ErrSuperseded, ErrClosed or a transport error
func (f *Facade) Connect(ctx context.Context, id string) (*session.Session, error) {
	d, err := f.registry.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	return f.connectDescriptor(ctx, d)
}

// ConnectSaved resolves a saved bulb into a session. Simulated bulbs are
// connected directly. A real bulb missing from the registry is looked
// for with a rediscovery scan that stops as soon as it appears.
//
// Parameters:
//   - ctx: bounds rediscovery and the connection attempt
//   - saved: the bulb as cached from the account backend
//
// Returns:
//   - *session.Session: the new active session
//   - error: device.ErrWrongMode when saved belongs to the other mode,
//     device.ErrUnreachable when rediscovery does not find it
func (f *Facade) ConnectSaved(ctx context.Context, saved device.SavedDevice) (*session.Session, error) {
	if saved.IsSimulated != f.SimulatorMode() {
		return nil, modeMismatch(saved.DeviceID, saved.IsSimulated)
	}

	if saved.IsSimulated {
		d := saved.Descriptor()
		f.exec.Do(func() { f.registry.Upsert(d) })
		return f.connectDescriptor(ctx, d)
	}

	if d, err := f.registry.Get(saved.DeviceID); err == nil {
		return f.connectDescriptor(ctx, d)
	}

	d, err := f.rediscover(ctx, saved.DeviceID)
	if err != nil {
		return nil, err
	}
	return f.connectDescriptor(ctx, d)
}

// rediscover scans until id shows up or the window ends. Only events of
// its own scan count, so a stale ScanFinished still queued from an earlier
// scan cannot end it.
func (f *Facade) rediscover(ctx context.Context, id string) (device.Descriptor, error) {
	op, scanCtx := newOperation(ctx)

	found := make(chan device.Descriptor, 1)
	finished := make(chan struct{}, 1)
	unsubscribe := f.Subscribe(func(ev Event) {
		if ev.scan != op {
			return
		}
		switch ev.Kind {
		case EventDeviceDiscovered:
			if ev.Device.ID == id {
				select {
				case found <- ev.Device:
				default:
				}
			}
		case EventScanFinished:
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	window := f.opts.RediscoveryWindow
	if err := f.startScan(scanCtx, op, window); err != nil {
		return device.Descriptor{}, err
	}
	f.logger.Debug("rediscovering saved bulb", "device_id", id, "window", window)

	// Backstop for a rediscovery scan superseded by another request.
	backstop := time.NewTimer(window + time.Second)
	defer backstop.Stop()

	select {
	case d := <-found:
		f.stopScan(op)
		return d, nil
	case <-finished:
		return device.Descriptor{}, fmt.Errorf("%w: saved bulb %s not found", device.ErrUnreachable, id)
	case <-backstop.C:
		return device.Descriptor{}, fmt.Errorf("%w: saved bulb %s not found", device.ErrUnreachable, id)
	case <-ctx.Done():
		f.stopScan(op)
		return device.Descriptor{}, transport.ContextError(ctx)
	}
}

func (f *Facade) connectDescriptor(ctx context.Context, d device.Descriptor) (*session.Session, error) {
	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	op := &operation{cancel: cancel, done: make(chan struct{})}
	defer close(op.done)

	var (
		previous  *operation
		scanOp    *operation
		oldSess   *session.Session
		simulator bool
		err       error
	)
	f.exec.Do(func() {
		if f.closed {
			err = ErrClosed
			return
		}
		previous = f.connect
		f.connect = op
		oldSess, f.sess = f.sess, nil
		simulator = f.simulator
		scanOp, f.scan = f.scan, nil
		if scanOp != nil {
			f.emit(Event{Kind: EventScanFinished, Reason: ReasonStopped, scan: scanOp})
		}
		f.emit(Event{Kind: EventConnecting, Device: d})
	})
	if err != nil {
		return nil, err
	}
	if scanOp != nil {
		scanOp.cancel()
		f.logger.Debug("scan stopped for connect", "device_id", d.ID)
	}

	if previous != nil {
		previous.cancel()
		f.logger.Debug("connect superseded", "device_id", d.ID)
		select {
		case <-previous.done:
		case <-connectCtx.Done():
			return nil, f.abandonConnect(op, d, transport.ContextError(connectCtx))
		}
	}
	if oldSess != nil {
		oldSess.Close()
	}

	if d.IsSimulated != simulator {
		return nil, f.abandonConnect(op, d, modeMismatch(d.ID, d.IsSimulated))
	}
	tr, err := f.transportFor(simulator)
	if err != nil {
		return nil, f.abandonConnect(op, d, err)
	}

	link, err := tr.Connect(connectCtx, d)
	if err != nil {
		return nil, f.abandonConnect(op, d, err)
	}

	ref := &sessionRef{}
	sess := session.New(session.Config{
		Transport: tr,
		Link:      link,
		Executor:  f.exec,
		Observer:  func(ev session.Event) { f.handleSessionEvent(ref, ev) },
		Logger:    f.logger,
	})
	ref.s.Store(sess)
	initial := sess.State()

	stale := false
	f.exec.Do(func() {
		if f.closed || f.connect != op {
			stale = true
			return
		}
		f.connect = nil
		oldSess, f.sess = f.sess, sess
		f.registry.Upsert(link.Device())
		_ = f.registry.SetConnected(d.ID, true)
		connected, _ := f.registry.Get(d.ID)
		f.emit(Event{Kind: EventSessionStarted, Device: connected, State: initial})
	})
	if stale {
		sess.Close()
		f.logger.Debug("connect superseded after link opened", "device_id", d.ID)
		return nil, device.ErrSuperseded
	}
	if oldSess != nil {
		oldSess.Close()
	}

	f.logger.Info("bulb connected", "device_id", d.ID, "name", d.Name, "simulated", d.IsSimulated)
	return sess, nil
}

// abandonConnect clears op and classifies err. Superseded attempts are
// logged at debug and report device.ErrSuperseded.
func (f *Facade) abandonConnect(op *operation, d device.Descriptor, err error) error {
	current := false
	f.exec.Do(func() {
		if f.connect == op {
			f.connect = nil
			current = true
		}
	})
	if !current || errors.Is(err, device.ErrSuperseded) {
		f.logger.Debug("connect superseded", "device_id", d.ID)
		return device.ErrSuperseded
	}
	f.logger.Warn("connect failed", "device_id", d.ID, "error", err)
	return err
}

func modeMismatch(id string, simulated bool) error {
	if simulated {
		return fmt.Errorf("%w: %s is simulated but the facade is in real mode", device.ErrWrongMode, id)
	}
	return fmt.Errorf("%w: %s is real but the facade is in simulator mode", device.ErrWrongMode, id)
}

// sessionRef lets a session observer identify its own session.
type sessionRef struct {
	s atomic.Pointer[session.Session]
}

// handleSessionEvent runs on the delivery goroutine.
func (f *Facade) handleSessionEvent(ref *sessionRef, ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		f.exec.Do(func() {
			f.emit(Event{Kind: EventStateChanged, Device: f.descriptorFor(ev.DeviceID), State: ev.State, Source: ev.Source, Command: ev.Command})
		})
	case session.EventCommandFailed:
		f.exec.Do(func() {
			out := Event{Kind: EventCommandFailed, Device: f.descriptorFor(ev.DeviceID), State: ev.State, Command: ev.Command}
			if ev.Err != nil {
				out.Error = ev.Err.Error()
			}
			f.emit(out)
		})
	case session.EventEnded:
		f.exec.Do(func() {
			if s := ref.s.Load(); s != nil && f.sess == s {
				f.sess = nil
			}
			_ = f.registry.SetConnected(ev.DeviceID, false)
			f.emit(Event{Kind: EventSessionEnded, Device: f.descriptorFor(ev.DeviceID), Reason: ev.Reason})
		})
	}
}

// descriptorFor must be called inside exec.Do.
func (f *Facade) descriptorFor(id string) device.Descriptor {
	if d, err := f.registry.Get(id); err == nil {
		return d
	}
	return device.Descriptor{ID: id}
}

// Session returns the active session, or nil.
func (f *Facade) Session() *session.Session {
	var s *session.Session
	f.exec.Do(func() { s = f.sess })
	return s
}

// Connected returns the bulb of the active session. It is read under the
// state context, so it is current even before SessionStarted is delivered.
func (f *Facade) Connected() (device.Descriptor, bool) {
	if s := f.Session(); s != nil {
		return s.Device(), true
	}
	return device.Descriptor{}, false
}

// Apply sends a command through the active session. Without one the
// result is device.ErrNotConnected.
func (f *Facade) Apply(cmd device.Command) <-chan error {
	if s := f.Session(); s != nil {
		return s.Apply(cmd)
	}
	result := make(chan error, 1)
	result <- device.ErrNotConnected
	return result
}

// Disconnect cancels any connect in flight and closes the active session.
func (f *Facade) Disconnect() {
	var (
		op   *operation
		sess *session.Session
	)
	f.exec.Do(func() {
		op, f.connect = f.connect, nil
		sess, f.sess = f.sess, nil
	})
	if op != nil {
		op.cancel()
	}
	if sess != nil {
		sess.Close()
	}
}

// Close stops every operation, ends the session and waits for background
// work. Transports are left open for their owner to close.
func (f *Facade) Close() {
	var (
		scanOp *operation
		connOp *operation
		sess   *session.Session
		first  bool
	)
	f.exec.Do(func() {
		if f.closed {
			return
		}
		first = true
		f.closed = true
		scanOp, f.scan = f.scan, nil
		connOp, f.connect = f.connect, nil
		sess, f.sess = f.sess, nil
	})
	if !first {
		return
	}

	if f.stopWatch != nil {
		f.stopWatch()
	}
	if scanOp != nil {
		scanOp.cancel()
	}
	if connOp != nil {
		connOp.cancel()
	}
	if sess != nil {
		sess.Close()
	}
	f.wg.Wait()
	if f.exec.Delivering() {
		// Possibly called from a subscriber, which runs on the goroutine
		// Close would wait for. The queue drains once it returns.
		f.exec.Stop()
	} else {
		f.exec.Close()
	}
	f.logger.Info("control facade stopped")
}
