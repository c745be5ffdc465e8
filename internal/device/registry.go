package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry tracks the descriptors known to the current scan session and
// the liveness of each.
//
// It holds ephemeral records only: the control facade clears it when a
// new scan starts or the transport mode changes. Saved devices live in
// the account backend and are merged in on demand.
//
// All public methods are thread-safe. Values are copied on the way in and
// on the way out, so callers can never mutate registry contents.
type Registry struct {
	devices map[string]Descriptor
	mu      sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Descriptor),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Upsert records a sighting of d. The connection flag of an existing
// record is preserved; a sighting never marks a device connected.
// Returns true if the ID was not known before.
func (r *Registry) Upsert(d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.LastSeen.IsZero() {
		d.LastSeen = r.now()
	}

	existing, ok := r.devices[d.ID]
	if ok {
		d.IsConnected = existing.IsConnected
		// The simulated flag is immutable once a descriptor exists.
		d.IsSimulated = existing.IsSimulated
	}
	r.devices[d.ID] = d

	if !ok {
		r.logger.Debug("device discovered", "device_id", d.ID, "name", d.Name, "rssi", d.SignalStrength)
	}
	return !ok
}

// Get returns the descriptor with the given ID.
// Returns ErrDeviceNotFound if the registry does not know it.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Descriptor{}, ErrDeviceNotFound
	}
	return d, nil
}

// List returns all descriptors, strongest signal first, then by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalStrength != out[j].SignalStrength {
			return out[i].SignalStrength > out[j].SignalStrength
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetConnected updates the liveness flag of a known descriptor.
// Returns ErrDeviceNotFound if the registry does not know it.
func (r *Registry) SetConnected(id string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.IsConnected = connected
	if connected {
		d.LastSeen = r.now()
	}
	r.devices[id] = d
	return nil
}

// Clear drops every descriptor.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.devices)
	r.devices = make(map[string]Descriptor)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Debug("device registry cleared", "count", n)
	}
}

// Len returns the number of known descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
