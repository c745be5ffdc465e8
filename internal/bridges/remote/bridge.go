package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smartbulb-core/internal/control"
	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/mqtt"
)

const (
	// commandTimeout bounds the wait for a bulb to confirm a remote command.
	commandTimeout = 10 * time.Second

	qosAtLeastOnce byte = 1
)

// Broker is the MQTT surface the bridge needs. Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	SetOnConnect(callback func())
}

// Controller is the control facade surface the bridge drives.
// Satisfied by *control.Facade.
type Controller interface {
	Subscribe(fn control.Subscriber) (unsubscribe func())
	Connected() (device.Descriptor, bool)
	Apply(cmd device.Command) <-chan error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Bridge mirrors the control facade onto MQTT.
//
// Outbound, it publishes retained discovery, availability and state
// messages from facade events. Inbound, it accepts commands for the
// connected bulb and answers each with an acknowledgement once the bulb
// has confirmed or rejected the write.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	broker     Broker
	controller Controller
	topics     mqtt.Topics
	logger     Logger

	mu sync.Mutex
	// connected follows SessionStarted/SessionEnded as they are delivered,
	// so it lags the facade. It only drives availability; command
	// admission asks the controller.
	connected string
	states    map[string]StateMessage
	online    map[string]bool

	unsubscribe func()
	wg          sync.WaitGroup
	stopOnce    sync.Once
	done        chan struct{}

	now func() time.Time
}

// New creates a bridge. Call Start to begin mirroring.
func New(broker Broker, controller Controller, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		broker:     broker,
		controller: controller,
		topics:     broker.Topics(),
		logger:     logger,
		states:     make(map[string]StateMessage),
		online:     make(map[string]bool),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start subscribes to the command topics and to facade events.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.AllCommands(), qosAtLeastOnce, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.broker.SetOnConnect(b.republish)
	b.unsubscribe = b.controller.Subscribe(b.handleEvent)
	b.logger.Info("remote bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop detaches from the facade, marks the connected bulb offline and
// waits for pending command acknowledgements.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		b.mu.Unlock()

		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.broker.SetOnConnect(nil)
		if err := b.broker.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logger.Debug("unsubscribe on stop failed", "error", err)
		}

		b.mu.Lock()
		id := b.connected
		b.connected = ""
		b.mu.Unlock()
		if id != "" {
			b.publishAvailability(id, false)
		}

		b.wg.Wait()
		b.logger.Info("remote bridge stopped")
	})
}

// =============================================================================
// Outbound
// =============================================================================

// handleEvent runs on the facade delivery goroutine.
func (b *Bridge) handleEvent(ev control.Event) {
	switch ev.Kind {
	case control.EventDeviceDiscovered:
		b.publishJSON(b.topics.Discovery(ev.Device.ID), DiscoveryMessage{
			DeviceID:       ev.Device.ID,
			Name:           ev.Device.Name,
			SignalStrength: ev.Device.SignalStrength,
			IsSimulated:    ev.Device.IsSimulated,
			Timestamp:      ev.Timestamp,
		}, true)

	case control.EventSessionStarted:
		b.mu.Lock()
		b.connected = ev.Device.ID
		b.online[ev.Device.ID] = true
		b.mu.Unlock()
		b.publishAvailability(ev.Device.ID, true)

	case control.EventSessionEnded:
		b.mu.Lock()
		if b.connected == ev.Device.ID {
			b.connected = ""
		}
		b.online[ev.Device.ID] = false
		b.mu.Unlock()
		b.publishAvailability(ev.Device.ID, false)

	case control.EventStateChanged:
		msg := StateMessage{
			DeviceID:  ev.Device.ID,
			State:     ev.State,
			Source:    string(ev.Source),
			Timestamp: ev.Timestamp,
		}
		b.mu.Lock()
		b.states[ev.Device.ID] = msg
		b.mu.Unlock()
		b.publishJSON(b.topics.State(ev.Device.ID), msg, true)
	}
}

// republish restores retained availability and state after a reconnect.
func (b *Bridge) republish() {
	b.mu.Lock()
	states := make([]StateMessage, 0, len(b.states))
	for _, msg := range b.states {
		states = append(states, msg)
	}
	online := make(map[string]bool, len(b.online))
	for id, on := range b.online {
		online[id] = on
	}
	b.mu.Unlock()

	for id, on := range online {
		b.publishAvailability(id, on)
	}
	for _, msg := range states {
		b.publishJSON(b.topics.State(msg.DeviceID), msg, true)
	}
	b.logger.Debug("retained state republished", "devices", len(states))
}

func (b *Bridge) publishAvailability(id string, online bool) {
	payload := AvailabilityOffline
	if online {
		payload = AvailabilityOnline
	}
	if err := b.broker.Publish(b.topics.Availability(id), []byte(payload), qosAtLeastOnce, true); err != nil {
		b.logger.Warn("publishing availability failed", "device_id", id, "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("encoding mqtt payload failed", "topic", topic, "error", err)
		return
	}
	if err := b.broker.Publish(topic, payload, qosAtLeastOnce, retained); err != nil {
		b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// =============================================================================
// Inbound
// =============================================================================

// handleCommand runs on the MQTT client's goroutine. The wait for the
// bulb's confirmation moves to its own goroutine.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := b.topics.DeviceID("command", topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(deviceID, uuid.NewString(), AckFailed, &AckError{Code: ErrCodeInvalidPayload, Message: err.Error()})
		return fmt.Errorf("decoding command: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cmd, err := device.ParseCommand(msg.Command, msg.Parameters)
	if err != nil {
		b.publishAck(deviceID, msg.ID, AckFailed, &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()})
		return nil
	}

	if active, ok := b.controller.Connected(); !ok || active.ID != deviceID {
		b.publishAck(deviceID, msg.ID, AckFailed, &AckError{Code: ErrCodeNotConnected, Message: device.ErrNotConnected.Error()})
		return nil
	}

	b.mu.Lock()
	if b.stopped() {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	result := b.controller.Apply(cmd)
	go func() {
		defer b.wg.Done()
		b.awaitResult(deviceID, msg.ID, cmd, result)
	}()
	return nil
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bridge) awaitResult(deviceID, commandID string, cmd device.Command, result <-chan error) {
	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			b.logger.Debug("remote command failed", "device_id", deviceID, "command", cmd.String(), "error", err)
			b.publishAck(deviceID, commandID, AckFailed, &AckError{Code: errorCode(err), Message: err.Error()})
			return
		}
		b.publishAck(deviceID, commandID, AckAccepted, nil)
	case <-timer.C:
		b.publishAck(deviceID, commandID, AckFailed, &AckError{Code: ErrCodeTimeout, Message: "no confirmation from bulb"})
	case <-b.done:
	}
}

func (b *Bridge) publishAck(deviceID, commandID string, status AckStatus, ackErr *AckError) {
	b.publishJSON(b.topics.Ack(deviceID), AckMessage{
		CommandID: commandID,
		DeviceID:  deviceID,
		Status:    status,
		Error:     ackErr,
		Timestamp: b.now().UTC(),
	}, false)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, device.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, device.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, device.ErrWriteFailed):
		return ErrCodeWriteFailed
	case errors.Is(err, device.ErrUnreachable):
		return ErrCodeUnreachable
	case errors.Is(err, device.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeBridgeError
	}
}
