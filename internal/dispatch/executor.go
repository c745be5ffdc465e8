package dispatch

import (
	"sync"
	"sync/atomic"
)

// Logger is the minimal logging surface the executor needs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Executor is the single logical state context for a control facade.
//
// Discovery events, write acknowledgements and status notifications all
// arrive on independent goroutines. Every mutation of session state and
// of the device registry goes through Do, so mutations never interleave.
// Observer notifications go through Emit: they are queued while the
// mutation holds the context and delivered afterwards, one at a time and
// in emission order, on the executor's own goroutine. An observer may
// therefore call back into the facade without deadlocking.
//
// Thread Safety: All methods are safe for concurrent use.
type Executor struct {
	mu sync.Mutex // the state context

	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}

	done       chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
	delivering atomic.Bool
	logger     Logger
}

// New creates an executor and starts its delivery goroutine.
// Call Close to stop it.
func New(logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	e := &Executor{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	e.wg.Add(1)
	go e.deliverLoop()
	return e
}

// Do runs fn exclusively within the state context.
// fn must not call Do itself.
func (e *Executor) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// Emit queues fn for ordered delivery. It never blocks and may be called
// from inside Do. After Close, Emit drops fn.
func (e *Executor) Emit(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}

	e.queueMu.Lock()
	e.queue = append(e.queue, fn)
	e.queueMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop tells the delivery goroutine to deliver what is queued and exit,
// without waiting for it. Safe to call from a notification.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// Close is Stop followed by a wait for the delivery goroutine to exit.
// Safe to call multiple times. A notification must not call Close, since
// the goroutine it waits for is the one running the notification; use
// Stop there, or check Delivering.
func (e *Executor) Close() {
	e.Stop()
	e.wg.Wait()
}

// Delivering reports whether a notification is running right now.
func (e *Executor) Delivering() bool {
	return e.delivering.Load()
}

func (e *Executor) deliverLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.wake:
			e.drain()
		case <-e.done:
			e.drain()
			return
		}
	}
}

// drain delivers queued notifications until the queue is empty.
func (e *Executor) drain() {
	for {
		e.queueMu.Lock()
		batch := e.queue
		e.queue = nil
		e.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			e.deliver(fn)
		}
	}
}

// deliver runs one notification, recovering from observer panics.
func (e *Executor) deliver(fn func()) {
	e.delivering.Store(true)
	defer func() {
		e.delivering.Store(false)
		if r := recover(); r != nil {
			e.logger.Error("observer panic recovered", "panic", r)
		}
	}()
	fn()
}
