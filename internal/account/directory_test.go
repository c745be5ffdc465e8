package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/config"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/database"
	"github.com/nerrad567/smartbulb-core/internal/settings"
	"github.com/nerrad567/smartbulb-core/migrations"
)

func newTestStore(t *testing.T) *settings.Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "account.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return settings.New(db.DB, true)
}

// newTestDirectory returns a signed-in directory over a fake backend.
func newTestDirectory(t *testing.T) (*Directory, *fakeBackend, *settings.Store) {
	t.Helper()
	backend := newFakeBackend()
	backend.users["user@example.com"] = "password1"
	client, _ := newTestClient(t, backend)
	store := newTestStore(t)

	dir := NewDirectory(client, store, nil)
	if err := dir.SignIn(context.Background(), " user@example.com ", "password1"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	return dir, backend, store
}

func TestDirectoryRequiresSignIn(t *testing.T) {
	dir := NewDirectory(nil, newTestStore(t), nil)
	ctx := context.Background()

	if _, err := dir.List(ctx); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("List() error = %v, want ErrNotSignedIn", err)
	}
	if _, err := dir.Add(ctx, device.Descriptor{ID: "a"}, "", ""); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Add() error = %v, want ErrNotSignedIn", err)
	}
}

func TestDirectorySignIn(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	email, err := dir.Email(ctx)
	if err != nil || email != "user@example.com" {
		t.Fatalf("Email() = %q, %v; want trimmed address", email, err)
	}
	if err := dir.SignIn(ctx, "user@example.com", "wrong-pass"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("SignIn() wrong password error = %v, want ErrUnauthorized", err)
	}

	if err := dir.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := dir.Email(ctx); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Email() after SignOut() error = %v, want ErrNotSignedIn", err)
	}
}

func TestDirectoryListFiltersByMode(t *testing.T) {
	dir, _, store := newTestDirectory(t)
	ctx := context.Background()

	simDesc := device.Descriptor{ID: "sim-1", Name: "Smart Bulb (Simulated)", IsSimulated: true}
	realDesc := device.Descriptor{ID: "AA:BB", Name: "BulbX"}

	saved, err := dir.Add(ctx, simDesc, "", "Office")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !saved.IsSimulated || saved.DisplayName != simDesc.Name {
		t.Errorf("Add() = %+v, want simulated flag and descriptor name", saved)
	}
	if _, err := dir.Add(ctx, realDesc, "Hall light", ""); err != nil {
		t.Fatalf("Add() real error = %v", err)
	}

	list, err := dir.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].DeviceID != "sim-1" {
		t.Fatalf("List() in simulator mode = %+v, want sim-1", list)
	}

	if err := store.SetSimulatorMode(ctx, false); err != nil {
		t.Fatalf("SetSimulatorMode() error = %v", err)
	}
	list, err = dir.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].DeviceID != "AA:BB" || list[0].DisplayName != "Hall light" {
		t.Fatalf("List() in real mode = %+v, want AA:BB named Hall light", list)
	}
}

func TestDirectoryFallsBackToCache(t *testing.T) {
	dir, backend, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Add(ctx, device.Descriptor{ID: "sim-1", Name: "Desk", IsSimulated: true}, "", ""); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := dir.List(ctx); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Trip the breaker so the backend reads as unavailable.
	backend.fail.Store(true)
	for i := 0; i < 3; i++ {
		dir.List(ctx) //nolint:errcheck // Tripping the breaker
	}

	got, err := dir.Lookup(ctx, "sim-1")
	if err != nil {
		t.Fatalf("Lookup() with backend down error = %v", err)
	}
	if got.DisplayName != "Desk" {
		t.Errorf("Lookup() = %+v, want cached Desk", got)
	}
	if _, err := dir.Lookup(ctx, "ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Lookup(ghost) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDirectoryUpdateRemoveSeen(t *testing.T) {
	dir, _, store := newTestDirectory(t)
	ctx := context.Background()
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return fixed }

	if _, err := dir.Add(ctx, device.Descriptor{ID: "sim-1", Name: "Desk", IsSimulated: true}, "", ""); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := dir.Update(ctx, "sim-1", "Reading lamp", ""); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	cached, err := store.SavedDevice(ctx, "sim-1")
	if err != nil {
		t.Fatalf("SavedDevice() error = %v", err)
	}
	if cached.DisplayName != "Reading lamp" {
		t.Errorf("cached name = %q, want Reading lamp", cached.DisplayName)
	}

	if err := dir.Seen(ctx, "sim-1"); err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	cached, _ = store.SavedDevice(ctx, "sim-1")
	if cached.LastSeen == nil || !cached.LastSeen.Equal(fixed) {
		t.Errorf("LastSeen = %v, want %v", cached.LastSeen, fixed)
	}
	if err := dir.Seen(ctx, "unknown"); err != nil {
		t.Errorf("Seen(unknown) error = %v, want nil", err)
	}

	if err := dir.Remove(ctx, "sim-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.SavedDevice(ctx, "sim-1"); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("cache after Remove() error = %v, want ErrNotFound", err)
	}
	if err := dir.Remove(ctx, "sim-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() twice error = %v, want ErrNotFound", err)
	}
}
