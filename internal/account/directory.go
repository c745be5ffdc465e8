package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/settings"
)

// Backend is the part of Client the directory uses.
type Backend interface {
	Login(ctx context.Context, email, password string) error
	AddBulb(ctx context.Context, email string, bulb device.SavedDevice) error
	GetBulbs(ctx context.Context, email string, simulatorMode bool) ([]device.SavedDevice, error)
	UpdateBulb(ctx context.Context, email, bulbID, name, room string) error
	DeleteBulb(ctx context.Context, email, bulbID string) error
}

// Cache is the local store behind the directory. Satisfied by *settings.Store.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	SimulatorMode(ctx context.Context) (bool, error)
	SavedDevices(ctx context.Context, simulated bool) ([]device.SavedDevice, error)
	SavedDevice(ctx context.Context, id string) (device.SavedDevice, error)
	ReplaceSavedDevices(ctx context.Context, simulated bool, list []device.SavedDevice) error
	PutSavedDevice(ctx context.Context, d device.SavedDevice) error
	DeleteSavedDevice(ctx context.Context, id string) error
	TouchSavedDevice(ctx context.Context, id string, at time.Time) error
}

// Directory is the saved-device list of the signed-in account.
//
// Reads go to the backend and refresh the local cache; when the backend
// is unavailable the cache answers instead. Listings are filtered by the
// current simulator mode.
type Directory struct {
	backend Backend
	cache   Cache
	logger  Logger
	now     func() time.Time
}

// NewDirectory creates a Directory.
func NewDirectory(backend Backend, cache Cache, logger Logger) *Directory {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Directory{backend: backend, cache: cache, logger: logger, now: time.Now}
}

// SignIn verifies the credentials and remembers the email.
func (d *Directory) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if err := d.backend.Login(ctx, email, password); err != nil {
		return err
	}
	return d.cache.Set(ctx, settings.KeyAccountEmail, email)
}

// SignOut forgets the email and the cached devices of both modes.
func (d *Directory) SignOut(ctx context.Context) error {
	if err := d.cache.Delete(ctx, settings.KeyAccountEmail); err != nil {
		return err
	}
	for _, simulated := range []bool{true, false} {
		if err := d.cache.ReplaceSavedDevices(ctx, simulated, nil); err != nil {
			return err
		}
	}
	return nil
}

// Email returns the signed-in email or ErrNotSignedIn.
func (d *Directory) Email(ctx context.Context) (string, error) {
	email, err := d.cache.Get(ctx, settings.KeyAccountEmail)
	if errors.Is(err, settings.ErrNotFound) {
		return "", ErrNotSignedIn
	}
	return email, err
}

// List returns the saved devices of the current mode.
func (d *Directory) List(ctx context.Context) ([]device.SavedDevice, error) {
	email, err := d.Email(ctx)
	if err != nil {
		return nil, err
	}
	simulated, err := d.cache.SimulatorMode(ctx)
	if err != nil {
		return nil, err
	}

	list, err := d.backend.GetBulbs(ctx, email, simulated)
	if errors.Is(err, ErrUnavailable) {
		d.logger.Warn("account backend unavailable, using cached devices", "error", err)
		return d.cache.SavedDevices(ctx, simulated)
	}
	if err != nil {
		return nil, err
	}

	if err := d.cache.ReplaceSavedDevices(ctx, simulated, list); err != nil {
		d.logger.Warn("caching saved devices failed", "error", err)
	}
	return list, nil
}

// Lookup resolves one saved device of the current mode.
func (d *Directory) Lookup(ctx context.Context, id string) (device.SavedDevice, error) {
	list, err := d.List(ctx)
	if err != nil {
		return device.SavedDevice{}, err
	}
	for _, s := range list {
		if s.DeviceID == id {
			return s, nil
		}
	}
	return device.SavedDevice{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
}

// Add registers a discovered bulb with the account. The simulated flag
// always comes from the descriptor. An empty name uses the descriptor's.
func (d *Directory) Add(ctx context.Context, desc device.Descriptor, name, room string) (device.SavedDevice, error) {
	email, err := d.Email(ctx)
	if err != nil {
		return device.SavedDevice{}, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = desc.Name
	}
	now := d.now().UTC()
	saved := device.SavedDevice{
		DeviceID:    desc.ID,
		DisplayName: name,
		RoomLabel:   strings.TrimSpace(room),
		IsSimulated: desc.IsSimulated,
		AddedAt:     &now,
	}
	if !desc.LastSeen.IsZero() {
		seen := desc.LastSeen.UTC()
		saved.LastSeen = &seen
	}

	if err := d.backend.AddBulb(ctx, email, saved); err != nil {
		return device.SavedDevice{}, err
	}
	if err := d.cache.PutSavedDevice(ctx, saved); err != nil {
		d.logger.Warn("caching saved device failed", "device_id", saved.DeviceID, "error", err)
	}
	return saved, nil
}

// Update renames a saved device or changes its room.
func (d *Directory) Update(ctx context.Context, id, name, room string) error {
	email, err := d.Email(ctx)
	if err != nil {
		return err
	}
	name, room = strings.TrimSpace(name), strings.TrimSpace(room)
	if err := d.backend.UpdateBulb(ctx, email, id, name, room); err != nil {
		return err
	}

	cached, err := d.cache.SavedDevice(ctx, id)
	if err != nil {
		return nil //nolint:nilerr // Not cached yet; the next List refreshes it
	}
	if name != "" {
		cached.DisplayName = name
	}
	if room != "" {
		cached.RoomLabel = room
	}
	if err := d.cache.PutSavedDevice(ctx, cached); err != nil {
		d.logger.Warn("caching saved device failed", "device_id", id, "error", err)
	}
	return nil
}

// Remove deletes a saved device from the account.
func (d *Directory) Remove(ctx context.Context, id string) error {
	email, err := d.Email(ctx)
	if err != nil {
		return err
	}
	if err := d.backend.DeleteBulb(ctx, email, id); err != nil {
		return err
	}
	return d.cache.DeleteSavedDevice(ctx, id)
}

// Seen stamps the cached last-seen time after a successful connection.
// Unknown IDs are ignored.
func (d *Directory) Seen(ctx context.Context, id string) error {
	err := d.cache.TouchSavedDevice(ctx, id, d.now())
	if errors.Is(err, settings.ErrNotFound) {
		return nil
	}
	return err
}
