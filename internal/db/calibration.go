package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/frame"
)

// Calibration returns the stored calibration for a camera, or nil.
func (db *DB) Calibration(ctx context.Context, cameraID string) (*frame.Calibration, error) {
	var raw string
	err := db.QueryRowContext(ctx,
		`SELECT calibration_json FROM camera_calibration WHERE camera_id = ?`, cameraID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cal frame.Calibration
	if err := json.Unmarshal([]byte(raw), &cal); err != nil {
		return nil, fmt.Errorf("camera %s: decode calibration: %w", cameraID, err)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("camera %s: %w", cameraID, err)
	}
	return &cal, nil
}

// SetCalibration stores the calibration for a camera.
func (db *DB) SetCalibration(ctx context.Context, cameraID string, cal frame.Calibration) error {
	if err := calibration.Check(cal); err != nil {
		return err
	}
	b, err := json.Marshal(cal)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO camera_calibration (camera_id, calibration_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (camera_id) DO UPDATE SET
			calibration_json = excluded.calibration_json,
			updated_at = excluded.updated_at`,
		cameraID, string(b),
	)
	return err
}

// Calibrations returns every stored calibration keyed by camera id.
func (db *DB) Calibrations(ctx context.Context) (map[string]frame.Calibration, error) {
	rows, err := db.QueryContext(ctx, `SELECT camera_id, calibration_json FROM camera_calibration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]frame.Calibration)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var cal frame.Calibration
		if err := json.Unmarshal([]byte(raw), &cal); err != nil {
			return nil, fmt.Errorf("camera %s: decode calibration: %w", id, err)
		}
		out[id] = cal
	}
	return out, rows.Err()
}
