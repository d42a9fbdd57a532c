package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/banshee-data/speedwatch/internal/state"
)

// GetTrack implements state.Store. Expired rows read as absent.
func (db *DB) GetTrack(ctx context.Context, cameraID, trackID string) (*state.TrackState, error) {
	var s state.TrackState
	err := db.QueryRowContext(ctx, `
		SELECT last_x, last_y, v_ema, samples
		  FROM track_state
		 WHERE camera_id = ? AND track_id = ? AND expires_at_ms > ?`,
		cameraID, trackID, db.nowMs(),
	).Scan(&s.LastX, &s.LastY, &s.VEMA, &s.Samples)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PutTrack implements state.Store and refreshes the row's expiry.
func (db *DB) PutTrack(ctx context.Context, cameraID, trackID string, s state.TrackState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO track_state (camera_id, track_id, last_x, last_y, v_ema, samples, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (camera_id, track_id) DO UPDATE SET
			last_x = excluded.last_x,
			last_y = excluded.last_y,
			v_ema = excluded.v_ema,
			samples = excluded.samples,
			expires_at_ms = excluded.expires_at_ms`,
		cameraID, trackID, s.LastX, s.LastY, s.VEMA, s.Samples, db.nowMs()+db.stateTTL.Milliseconds(),
	)
	return err
}

// GetCooldown implements state.Store.
func (db *DB) GetCooldown(ctx context.Context, cameraID, trackID string) (int64, bool, error) {
	var last int64
	err := db.QueryRowContext(ctx,
		`SELECT last_violation_s FROM violation_cooldown WHERE camera_id = ? AND track_id = ?`,
		cameraID, trackID,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return last, true, nil
}

// SetCooldown implements state.Store.
func (db *DB) SetCooldown(ctx context.Context, cameraID, trackID string, epochSeconds int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO violation_cooldown (camera_id, track_id, last_violation_s)
		VALUES (?, ?, ?)
		ON CONFLICT (camera_id, track_id) DO UPDATE SET last_violation_s = excluded.last_violation_s`,
		cameraID, trackID, epochSeconds,
	)
	return err
}

// ClaimDedupe implements state.Store. The insert only takes over an existing
// guard once it has expired, so the claim is a single atomic statement.
func (db *DB) ClaimDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := db.nowMs()
	res, err := db.ExecContext(ctx, `
		INSERT INTO dedupe_guard (dedupe_key, expires_at_ms)
		VALUES (?, ?)
		ON CONFLICT (dedupe_key) DO UPDATE SET expires_at_ms = excluded.expires_at_ms
		WHERE dedupe_guard.expires_at_ms <= ?`,
		key, now+ttl.Milliseconds(), now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Prune implements state.Pruner, deleting expired tracks and guards.
func (db *DB) Prune(ctx context.Context) (int64, error) {
	now := db.nowMs()
	var total int64
	for _, q := range []string{
		`DELETE FROM track_state WHERE expires_at_ms <= ?`,
		`DELETE FROM dedupe_guard WHERE expires_at_ms <= ?`,
	} {
		res, err := db.ExecContext(ctx, q, now)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

var (
	_ state.Store  = (*DB)(nil)
	_ state.Pruner = (*DB)(nil)
)
