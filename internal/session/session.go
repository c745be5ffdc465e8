package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/dispatch"
	"github.com/nerrad567/smartbulb-core/internal/transport"
)

// End reasons reported on EventEnded.
const (
	ReasonClosed       = "closed"
	ReasonDisconnected = "disconnected"
)

// Logger defines the logging interface used by a session.
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

// Config holds what a session needs. Transport and Link are required.
type Config struct {
	Transport transport.Transport
	Link      transport.Link

	// Executor serialises state mutations. If nil the session creates
	// and owns one.
	Executor *dispatch.Executor

	Observer Observer
	Logger   Logger
}

// Session controls one connected bulb.
//
// Commands update the local state optimistically and return at once.
// Writes reach the transport one at a time, in the order the commands
// were applied, from a single sender goroutine; each outcome arrives on
// the channel Apply returned. A failed send does not roll the local
// state back.
// Every device-reported state overwrites the local state wholesale.
//
// A session is single use: once ended it rejects every command with
// device.ErrNotConnected and reconnecting creates a new session.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	tr       transport.Transport
	link     transport.Link
	desc     device.Descriptor
	exec     *dispatch.Executor
	ownExec  bool
	observer Observer
	logger   Logger

	// Guarded by exec.
	state  device.State
	closed bool
	queue  []pending

	wake       chan struct{}
	senderDone chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	endOnce sync.Once
	done    chan struct{}
}

// pending is a command waiting for the sender.
type pending struct {
	cmd    device.Command
	result chan<- error
}

// New starts a session over an open link.
func New(cfg Config) *Session {
	exec := cfg.Executor
	ownExec := false
	if exec == nil {
		exec = dispatch.New(nil)
		ownExec = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tr:         cfg.Transport,
		link:       cfg.Link,
		desc:       cfg.Link.Device(),
		exec:       exec,
		ownExec:    ownExec,
		observer:   observer,
		logger:     logger,
		state:      cfg.Link.InitialState().Normalised(),
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		senderDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.sendLoop()
	go s.reconcile()
	return s
}

// Device returns the descriptor of the connected bulb.
func (s *Session) Device() device.Descriptor {
	return s.desc
}

// State returns the current local state. An ended session has no state
// and returns the zero value.
func (s *Session) State() device.State {
	var st device.State
	s.exec.Do(func() { st = s.state })
	return st
}

// Active reports whether the session still accepts commands.
func (s *Session) Active() bool {
	active := false
	s.exec.Do(func() { active = !s.closed })
	return active
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetPower switches the bulb on or off.
func (s *Session) SetPower(on bool) <-chan error {
	return s.Apply(device.SetPower(on))
}

// SetBrightness sets the brightness, clamped into [0,255].
func (s *Session) SetBrightness(level int) <-chan error {
	return s.Apply(device.SetBrightness(level))
}

// SetColor sets the colour, each channel clamped into [0,255].
func (s *Session) SetColor(red, green, blue int) <-chan error {
	return s.Apply(device.SetColor(red, green, blue))
}

// SetMode sets the lighting mode.
func (s *Session) SetMode(m device.Mode) <-chan error {
	return s.Apply(device.SetMode(m))
}

// Apply runs one command. The returned channel receives exactly one
// value: nil once the transport acknowledged the write, or the error.
//
// Parameters:
//   - cmd: the command to apply; it is validated before anything changes
//
// Returns:
//   - <-chan error: buffered, receives the write outcome once
func (s *Session) Apply(cmd device.Command) <-chan error {
	result := make(chan error, 1)
	if err := cmd.Validate(); err != nil {
		result <- err
		return result
	}

	accepted := false
	s.exec.Do(func() {
		if s.closed {
			return
		}
		accepted = true
		s.state = cmd.Apply(s.state)
		s.queue = append(s.queue, pending{cmd: cmd, result: result})
		s.emit(Event{Kind: EventStateChanged, State: s.state, Source: SourceLocal, Command: cmd})
	})
	if !accepted {
		result <- device.ErrNotConnected
		return result
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return result
}

// sendLoop writes queued commands in order until the session ends.
// Commands still queued at that point resolve with device.ErrNotConnected.
func (s *Session) sendLoop() {
	defer close(s.senderDone)
	for {
		var batch []pending
		s.exec.Do(func() {
			batch = s.queue
			s.queue = nil
		})

		for i, p := range batch {
			if s.ctx.Err() != nil {
				rejectAll(batch[i:])
				break
			}
			p.result <- s.send(p.cmd)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			s.exec.Do(func() {
				batch = s.queue
				s.queue = nil
			})
			rejectAll(batch)
			return
		}
	}
}

func rejectAll(list []pending) {
	for _, p := range list {
		p.result <- device.ErrNotConnected
	}
}

func (s *Session) send(cmd device.Command) error {
	err := s.tr.Send(s.ctx, s.link, cmd)
	if err == nil {
		return nil
	}

	ended := false
	s.exec.Do(func() {
		ended = s.closed
		if !ended {
			s.emit(Event{Kind: EventCommandFailed, State: s.state, Command: cmd, Err: err})
		}
	})
	if ended || errors.Is(err, device.ErrSuperseded) {
		return device.ErrNotConnected
	}

	s.logger.Warn("bulb command failed", "device_id", s.desc.ID, "command", cmd.String(), "error", err)
	return err
}

// reconcile applies device-reported states until the link goes away.
func (s *Session) reconcile() {
	updates := s.tr.Updates(s.link)
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			st = st.Normalised()
			s.exec.Do(func() {
				if s.closed {
					return
				}
				s.state = st
				s.emit(Event{Kind: EventStateChanged, State: st, Source: SourceDevice})
			})
		case <-s.link.Done():
			s.end(ReasonDisconnected)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close disconnects the bulb and ends the session. In-flight commands
// resolve with device.ErrNotConnected. Safe to call multiple times.
// A session that owns its executor must not be closed from its observer.
func (s *Session) Close() {
	s.end(ReasonClosed)
	<-s.senderDone
	if s.ownExec {
		s.exec.Close()
	}
}

// end tears the session down once, discarding its state.
func (s *Session) end(reason string) {
	s.endOnce.Do(func() {
		s.exec.Do(func() {
			s.closed = true
			s.state = device.State{}
			s.emit(Event{Kind: EventEnded, Reason: reason})
		})
		s.cancel()
		_ = s.tr.Disconnect(s.link)
		close(s.done)

		if reason == ReasonDisconnected {
			s.logger.Info("bulb session ended by device", "device_id", s.desc.ID)
		} else {
			s.logger.Debug("bulb session closed", "device_id", s.desc.ID)
		}
	})
}

// emit must be called inside exec.Do.
func (s *Session) emit(ev Event) {
	ev.DeviceID = s.desc.ID
	ev.Timestamp = time.Now()
	observer := s.observer
	s.exec.Emit(func() { observer(ev) })
}
