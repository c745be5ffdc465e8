package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

const savedColumns = "device_id, display_name, room_label, is_simulated, added_at, last_seen"

type rowScanner interface {
	Scan(dest ...any) error
}

// SavedDevices returns the cached saved devices of one mode, by display name.
func (s *Store) SavedDevices(ctx context.Context, simulated bool) ([]device.SavedDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+savedColumns+" FROM saved_devices WHERE is_simulated = ? ORDER BY display_name, device_id",
		simulated,
	)
	if err != nil {
		return nil, fmt.Errorf("querying saved devices: %w", err)
	}
	defer rows.Close()

	out := make([]device.SavedDevice, 0)
	for rows.Next() {
		d, err := scanSaved(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating saved devices: %w", err)
	}
	return out, nil
}

// SavedDevice returns one cached saved device, or ErrNotFound.
func (s *Store) SavedDevice(ctx context.Context, id string) (device.SavedDevice, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+savedColumns+" FROM saved_devices WHERE device_id = ?", id)
	d, err := scanSaved(row)
	if errors.Is(err, sql.ErrNoRows) {
		return device.SavedDevice{}, fmt.Errorf("%w: saved device %s", ErrNotFound, id)
	}
	return d, err
}

// ReplaceSavedDevices replaces the cached devices of one mode with list.
// Entries whose IsSimulated differs from simulated are skipped.
func (s *Store) ReplaceSavedDevices(ctx context.Context, simulated bool, list []device.SavedDevice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM saved_devices WHERE is_simulated = ?", simulated); err != nil {
		return fmt.Errorf("clearing saved devices: %w", err)
	}
	for _, d := range list {
		if d.IsSimulated != simulated {
			continue
		}
		if err := upsertSaved(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing saved devices: %w", err)
	}
	return nil
}

// PutSavedDevice inserts or updates one cached device.
func (s *Store) PutSavedDevice(ctx context.Context, d device.SavedDevice) error {
	return upsertSaved(ctx, s.db, d)
}

// DeleteSavedDevice removes a cached device. Missing IDs are ignored.
func (s *Store) DeleteSavedDevice(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM saved_devices WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting saved device %s: %w", id, err)
	}
	return nil
}

// TouchSavedDevice stamps last_seen on a cached device.
func (s *Store) TouchSavedDevice(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE saved_devices SET last_seen = ? WHERE device_id = ?",
		at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("touching saved device %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports
		return fmt.Errorf("%w: saved device %s", ErrNotFound, id)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSaved(ctx context.Context, db execer, d device.SavedDevice) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO saved_devices (`+savedColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			display_name = excluded.display_name,
			room_label = excluded.room_label,
			is_simulated = excluded.is_simulated,
			added_at = COALESCE(excluded.added_at, saved_devices.added_at),
			last_seen = COALESCE(excluded.last_seen, saved_devices.last_seen)`,
		d.DeviceID, d.DisplayName, d.RoomLabel, d.IsSimulated, formatTime(d.AddedAt), formatTime(d.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.DeviceID, err)
	}
	return nil
}

func scanSaved(row rowScanner) (device.SavedDevice, error) {
	var (
		d                 device.SavedDevice
		addedAt, lastSeen sql.NullString
	)
	if err := row.Scan(&d.DeviceID, &d.DisplayName, &d.RoomLabel, &d.IsSimulated, &addedAt, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scanning saved device: %w", err)
	}
	d.AddedAt = parseTime(addedAt)
	d.LastSeen = parseTime(lastSeen)
	return d, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
