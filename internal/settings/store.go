package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Well-known setting keys.
const (
	KeySimulatorMode = "simulator_mode"
	KeyAccountEmail  = "account.email"
)

// ErrNotFound is returned when a setting or saved device does not exist.
var ErrNotFound = errors.New("settings: not found")

// Store is the SQLite-backed local settings store.
//
// It holds the simulator-mode flag, free-form keys such as the signed-in
// account email, the stable simulated bulb identities and the offline
// cache of saved devices.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	db               *sql.DB
	defaultSimulator bool
	now              func() time.Time

	// modeMu serialises mode writes with their notifications so watchers
	// observe changes in write order.
	modeMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[int]func(bool)
	nextID   int
}

// New creates a Store on an open, migrated database.
// defaultSimulator is reported until the mode is first written.
func New(db *sql.DB, defaultSimulator bool) *Store {
	return &Store{
		db:               db,
		defaultSimulator: defaultSimulator,
		now:              time.Now,
		watchers:         make(map[int]func(bool)),
	}
}

// =============================================================================
// Key/value settings
// =============================================================================

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// Simulator mode
// =============================================================================

// SimulatorMode reports whether the simulated transport is selected.
func (s *Store) SimulatorMode(ctx context.Context) (bool, error) {
	raw, err := s.Get(ctx, KeySimulatorMode)
	if errors.Is(err, ErrNotFound) {
		return s.defaultSimulator, nil
	}
	if err != nil {
		return false, err
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", KeySimulatorMode, err)
	}
	return on, nil
}

// SetSimulatorMode persists the flag. Watchers run synchronously after
// the write, and only when the value actually changed.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - on: true selects the simulator, false the Bluetooth radio
//
// Returns:
//   - error: if reading or writing the flag fails
func (s *Store) SetSimulatorMode(ctx context.Context, on bool) error {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	current, err := s.SimulatorMode(ctx)
	if err != nil {
		return err
	}
	if err := s.Set(ctx, KeySimulatorMode, strconv.FormatBool(on)); err != nil {
		return err
	}
	if current == on {
		return nil
	}

	s.watchMu.Lock()
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(on)
	}
	return nil
}

// Watch registers fn for mode changes and returns a function that
// unregisters it. fn must not call SetSimulatorMode.
func (s *Store) Watch(fn func(simulator bool)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

// =============================================================================
// Simulated identities
// =============================================================================

// SimulatedIdentities returns the stored simulated bulb IDs in fleet order.
func (s *Store) SimulatedIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT device_id FROM simulated_identities ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("querying simulated identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning simulated identity: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating simulated identities: %w", err)
	}
	return ids, nil
}

// SaveSimulatedIdentities replaces the stored identities with ids.
func (s *Store) SaveSimulatedIdentities(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM simulated_identities"); err != nil {
		return fmt.Errorf("clearing simulated identities: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO simulated_identities (position, device_id) VALUES (?, ?)", i, id,
		); err != nil {
			return fmt.Errorf("saving simulated identity %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing simulated identities: %w", err)
	}
	return nil
}
