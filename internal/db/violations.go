package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/speedwatch/internal/speed"
)

// DefaultViolationsLimit caps Violations when no limit is given.
const DefaultViolationsLimit = 100

// Publish records a violation event. Events are unique on dedupe_key: a
// second event for the same camera, track and second is dropped even when it
// was rebuilt with a new logic_event_id, so the first recorded event wins.
func (db *DB) Publish(ctx context.Context, ev speed.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.LogicEventID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO violations (
			logic_event_id, source_event_id, camera_id, tracking_id, ts_ms,
			speed_kmph, speed_limit_kmph, over_speed_percentage, dedupe_key, event_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		ev.LogicEventID, ev.SourceEventID, ev.CameraID, ev.Payload.TrackingID, ev.TsMs,
		ev.Payload.SpeedKMPH, ev.Payload.SpeedLimitKMPH, ev.Payload.OverSpeedPercentage,
		ev.DedupeKey, string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to record violation %s: %w", ev.LogicEventID, err)
	}
	return nil
}

// Violations returns the most recent violations, newest first. An empty
// cameraID matches every camera.
func (db *DB) Violations(ctx context.Context, cameraID string, limit int) ([]speed.Event, error) {
	if limit <= 0 {
		limit = DefaultViolationsLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT event_json
		  FROM violations
		 WHERE ? = '' OR camera_id = ?
		 ORDER BY ts_ms DESC, rowid DESC
		 LIMIT ?`,
		cameraID, cameraID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []speed.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev speed.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
