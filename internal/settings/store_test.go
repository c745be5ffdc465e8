package settings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/config"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/database"
	"github.com/nerrad567/smartbulb-core/migrations"
)

func newTestStore(t *testing.T, defaultSimulator bool) *Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "settings.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db.DB, defaultSimulator)
}

// =============================================================================
// Key/value Tests
// =============================================================================

func TestGetSetDelete(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	if _, err := s.Get(ctx, KeyAccountEmail); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, KeyAccountEmail, "a@example.com"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, KeyAccountEmail, "b@example.com"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := s.Get(ctx, KeyAccountEmail)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "b@example.com" {
		t.Errorf("Get() = %q, want b@example.com", got)
	}

	if err := s.Delete(ctx, KeyAccountEmail); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, KeyAccountEmail); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// Simulator Mode Tests
// =============================================================================

func TestSimulatorModeDefault(t *testing.T) {
	ctx := context.Background()
	for _, def := range []bool{true, false} {
		s := newTestStore(t, def)
		got, err := s.SimulatorMode(ctx)
		if err != nil {
			t.Fatalf("SimulatorMode() error = %v", err)
		}
		if got != def {
			t.Errorf("SimulatorMode() = %v, want default %v", got, def)
		}
	}
}

func TestSetSimulatorModeNotifiesOnChange(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []bool
	)
	cancel := s.Watch(func(on bool) {
		mu.Lock()
		seen = append(seen, on)
		mu.Unlock()
	})

	// Same value as the default: persisted, no notification.
	if err := s.SetSimulatorMode(ctx, true); err != nil {
		t.Fatalf("SetSimulatorMode(true) error = %v", err)
	}
	if err := s.SetSimulatorMode(ctx, false); err != nil {
		t.Fatalf("SetSimulatorMode(false) error = %v", err)
	}
	if err := s.SetSimulatorMode(ctx, false); err != nil {
		t.Fatalf("SetSimulatorMode(false) repeat error = %v", err)
	}

	got, err := s.SimulatorMode(ctx)
	if err != nil || got {
		t.Errorf("SimulatorMode() = %v, %v; want false", got, err)
	}

	cancel()
	cancel()
	if err := s.SetSimulatorMode(ctx, true); err != nil {
		t.Fatalf("SetSimulatorMode(true) error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] {
		t.Errorf("notifications = %v, want [false]", seen)
	}
}

func TestSimulatorModeCorruptValue(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	if err := s.Set(ctx, KeySimulatorMode, "sometimes"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := s.SimulatorMode(ctx); err == nil {
		t.Error("SimulatorMode() expected parse error")
	}
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestSimulatedIdentities(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	ids, err := s.SimulatedIdentities(ctx)
	if err != nil {
		t.Fatalf("SimulatedIdentities() error = %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("SimulatedIdentities() = %v, want empty", ids)
	}

	want := []string{"c", "a", "b"}
	if err := s.SaveSimulatedIdentities(ctx, want); err != nil {
		t.Fatalf("SaveSimulatedIdentities() error = %v", err)
	}
	if err := s.SaveSimulatedIdentities(ctx, want); err != nil {
		t.Fatalf("SaveSimulatedIdentities() replace error = %v", err)
	}

	ids, err = s.SimulatedIdentities(ctx)
	if err != nil {
		t.Fatalf("SimulatedIdentities() error = %v", err)
	}
	if len(ids) != len(want) {
		t.Fatalf("SimulatedIdentities() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q (fleet order)", i, ids[i], want[i])
		}
	}
}

// =============================================================================
// Saved Device Tests
// =============================================================================

func TestSavedDeviceCache(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sim := []device.SavedDevice{
		{DeviceID: "s2", DisplayName: "Porch", IsSimulated: true, AddedAt: &added},
		{DeviceID: "s1", DisplayName: "Desk", RoomLabel: "Office", IsSimulated: true},
		{DeviceID: "r1", DisplayName: "Wrong mode", IsSimulated: false},
	}
	if err := s.ReplaceSavedDevices(ctx, true, sim); err != nil {
		t.Fatalf("ReplaceSavedDevices() error = %v", err)
	}
	if err := s.PutSavedDevice(ctx, device.SavedDevice{DeviceID: "r2", DisplayName: "Hall"}); err != nil {
		t.Fatalf("PutSavedDevice() error = %v", err)
	}

	list, err := s.SavedDevices(ctx, true)
	if err != nil {
		t.Fatalf("SavedDevices() error = %v", err)
	}
	if len(list) != 2 || list[0].DeviceID != "s1" || list[1].DeviceID != "s2" {
		t.Fatalf("SavedDevices(true) = %+v, want s1, s2", list)
	}
	if list[0].RoomLabel != "Office" {
		t.Errorf("RoomLabel = %q, want Office", list[0].RoomLabel)
	}
	if list[1].AddedAt == nil || !list[1].AddedAt.Equal(added) {
		t.Errorf("AddedAt = %v, want %v", list[1].AddedAt, added)
	}

	reals, err := s.SavedDevices(ctx, false)
	if err != nil {
		t.Fatalf("SavedDevices(false) error = %v", err)
	}
	if len(reals) != 1 || reals[0].DeviceID != "r2" {
		t.Errorf("SavedDevices(false) = %+v, want only r2", reals)
	}

	// Replacing the simulated set leaves the real cache alone.
	if err := s.ReplaceSavedDevices(ctx, true, nil); err != nil {
		t.Fatalf("ReplaceSavedDevices(nil) error = %v", err)
	}
	if _, err := s.SavedDevice(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SavedDevice(s1) error = %v, want ErrNotFound", err)
	}
	if _, err := s.SavedDevice(ctx, "r2"); err != nil {
		t.Errorf("SavedDevice(r2) error = %v", err)
	}
}

func TestTouchAndDeleteSavedDevice(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	seen := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	if err := s.PutSavedDevice(ctx, device.SavedDevice{DeviceID: "a", DisplayName: "Lamp", IsSimulated: true}); err != nil {
		t.Fatalf("PutSavedDevice() error = %v", err)
	}
	if err := s.TouchSavedDevice(ctx, "a", seen); err != nil {
		t.Fatalf("TouchSavedDevice() error = %v", err)
	}

	// An update without LastSeen keeps the stamped value.
	if err := s.PutSavedDevice(ctx, device.SavedDevice{DeviceID: "a", DisplayName: "Renamed", IsSimulated: true}); err != nil {
		t.Fatalf("PutSavedDevice() update error = %v", err)
	}
	got, err := s.SavedDevice(ctx, "a")
	if err != nil {
		t.Fatalf("SavedDevice() error = %v", err)
	}
	if got.DisplayName != "Renamed" {
		t.Errorf("DisplayName = %q, want Renamed", got.DisplayName)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}

	if err := s.TouchSavedDevice(ctx, "missing", seen); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchSavedDevice(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteSavedDevice(ctx, "a"); err != nil {
		t.Fatalf("DeleteSavedDevice() error = %v", err)
	}
	if err := s.DeleteSavedDevice(ctx, "a"); err != nil {
		t.Errorf("DeleteSavedDevice() repeat error = %v", err)
	}
	if _, err := s.SavedDevice(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SavedDevice() after delete error = %v, want ErrNotFound", err)
	}
}
