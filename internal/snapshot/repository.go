package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// Repository persists snapshots, settings and calibration per device.
type Repository interface {
	// SaveSnapshot upserts the snapshot by (device, timestamp) and prunes the
	// device's history to the newest retain rows, atomically.
	SaveSnapshot(ctx context.Context, snap Snapshot, retain int) error
	// ListSnapshots returns up to limit snapshots, newest first.
	ListSnapshots(ctx context.Context, deviceID string, limit int) ([]Snapshot, error)
	// ListSnapshotsSince returns every snapshot at or after since, newest first.
	ListSnapshotsSince(ctx context.Context, deviceID string, since time.Time) ([]Snapshot, error)

	// GetSettings reports false when nothing was stored for the device.
	GetSettings(ctx context.Context, deviceID string) (Settings, bool, error)
	SaveSettings(ctx context.Context, deviceID string, s Settings) error
	// GetCalibration reports false when nothing was stored for the device.
	GetCalibration(ctx context.Context, deviceID string) (Calibration, bool, error)
	SaveCalibration(ctx context.Context, deviceID string, c Calibration) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used to report skipped rows.
func (r *SQLiteRepository) SetLogger(logger Logger) {
	r.logger = logger
}

// SaveSnapshot implements Repository.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap Snapshot, retain int) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	ts := database.FormatTime(snap.Reading.Timestamp)
	now := database.FormatTime(time.Now())

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (device_id, timestamp, snapshot_json, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (device_id, timestamp) DO UPDATE SET snapshot_json = excluded.snapshot_json`,
			snap.DeviceID, ts, string(data), now,
		)
		if err != nil {
			return fmt.Errorf("upserting snapshot: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM snapshots
			WHERE device_id = ? AND timestamp NOT IN (
				SELECT timestamp FROM snapshots WHERE device_id = ?
				ORDER BY timestamp DESC LIMIT ?
			)`,
			snap.DeviceID, snap.DeviceID, retain,
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		return nil
	})
}

// ListSnapshots implements Repository.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, deviceID string, limit int) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT snapshot_json FROM snapshots
		WHERE device_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	return r.scanSnapshots(rows)
}

// ListSnapshotsSince implements Repository.
func (r *SQLiteRepository) ListSnapshotsSince(ctx context.Context, deviceID string, since time.Time) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT snapshot_json FROM snapshots
		WHERE device_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC`, deviceID, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying snapshots since: %w", err)
	}
	return r.scanSnapshots(rows)
}

// scanSnapshots decodes snapshot rows, skipping any that are not valid JSON.
func (r *SQLiteRepository) scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			r.logger.Warn("skipping malformed snapshot row", "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snaps, nil
}

// GetSettings implements Repository.
func (r *SQLiteRepository) GetSettings(ctx context.Context, deviceID string) (Settings, bool, error) {
	var s Settings
	found, err := r.getJSON(ctx, "SELECT settings_json FROM device_settings WHERE device_id = ?", deviceID, &s)
	if err != nil {
		return Settings{}, false, fmt.Errorf("loading settings: %w", err)
	}
	return s, found, nil
}

// SaveSettings implements Repository.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, deviceID string, s Settings) error {
	err := r.putJSON(ctx, `
		INSERT INTO device_settings (device_id, settings_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`,
		deviceID, s)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// GetCalibration implements Repository.
func (r *SQLiteRepository) GetCalibration(ctx context.Context, deviceID string) (Calibration, bool, error) {
	var c Calibration
	found, err := r.getJSON(ctx, "SELECT calibration_json FROM device_calibration WHERE device_id = ?", deviceID, &c)
	if err != nil {
		return Calibration{}, false, fmt.Errorf("loading calibration: %w", err)
	}
	return c, found, nil
}

// SaveCalibration implements Repository.
func (r *SQLiteRepository) SaveCalibration(ctx context.Context, deviceID string, c Calibration) error {
	err := r.putJSON(ctx, `
		INSERT INTO device_calibration (device_id, calibration_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET calibration_json = excluded.calibration_json, updated_at = excluded.updated_at`,
		deviceID, c)
	if err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) getJSON(ctx context.Context, query, deviceID string, dest any) (bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decoding stored JSON: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) putJSON(ctx context.Context, query, deviceID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, deviceID, string(data), database.FormatTime(time.Now()))
	return err
}
