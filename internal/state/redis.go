package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/speedwatch/internal/frame"
)

// Redis key layout shared with the rest of the pipeline.
const (
	tracksKeyPrefix      = "spd:tracks:"
	lastViolationPrefix  = "spd:last_viol:"
	dedupeKeyPrefix      = "dedupe:"
	calibrationKeyPrefix = "cfg:calib:"
)

// RedisStore keeps state in Redis: one hash of JSON track records per
// camera whose expiry is refreshed on every write, one hash of cooldown
// timestamps per camera, and SETNX guards for dedupe keys.
type RedisStore struct {
	rdb      redis.Cmdable
	stateTTL time.Duration
}

// NewRedisStore wraps an existing client. A zero stateTTL selects
// DefaultStateTTL.
func NewRedisStore(rdb redis.Cmdable, stateTTL time.Duration) *RedisStore {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &RedisStore{rdb: rdb, stateTTL: stateTTL}
}

// GetTrack implements Store.
func (r *RedisStore) GetTrack(ctx context.Context, cameraID, trackID string) (*TrackState, error) {
	v, err := r.rdb.HGet(ctx, tracksKeyPrefix+cameraID, trackID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read track %s/%s: %w", cameraID, trackID, err)
	}
	var s TrackState
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return nil, fmt.Errorf("failed to decode track %s/%s: %w", cameraID, trackID, err)
	}
	return &s, nil
}

// PutTrack implements Store. The whole camera hash shares one expiry, so a
// camera with any active track keeps all of its tracks alive.
func (r *RedisStore) PutTrack(ctx context.Context, cameraID, trackID string, s TrackState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode track: %w", err)
	}
	key := tracksKeyPrefix + cameraID
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, trackID, data)
		pipe.Expire(ctx, key, r.stateTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write track %s/%s: %w", cameraID, trackID, err)
	}
	return nil
}

// GetCooldown implements Store.
func (r *RedisStore) GetCooldown(ctx context.Context, cameraID, trackID string) (int64, bool, error) {
	v, err := r.rdb.HGet(ctx, lastViolationPrefix+cameraID, trackID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cooldown %s/%s: %w", cameraID, trackID, err)
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse cooldown %q: %w", v, err)
	}
	return ts, true, nil
}

// SetCooldown implements Store.
func (r *RedisStore) SetCooldown(ctx context.Context, cameraID, trackID string, epochSeconds int64) error {
	if err := r.rdb.HSet(ctx, lastViolationPrefix+cameraID, trackID, epochSeconds).Err(); err != nil {
		return fmt.Errorf("failed to write cooldown %s/%s: %w", cameraID, trackID, err)
	}
	return nil
}

// ClaimDedupe implements Store.
func (r *RedisStore) ClaimDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, dedupeKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key %s: %w", key, err)
	}
	return ok, nil
}

// Calibration returns the calibration stored at cfg:calib:{camera}.
func (r *RedisStore) Calibration(ctx context.Context, cameraID string) (*frame.Calibration, error) {
	v, err := r.rdb.Get(ctx, calibrationKeyPrefix+cameraID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration for %s: %w", cameraID, err)
	}
	var cal frame.Calibration
	if err := json.Unmarshal([]byte(v), &cal); err != nil {
		return nil, fmt.Errorf("failed to decode calibration for %s: %w", cameraID, err)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("stored calibration for %s: %w", cameraID, err)
	}
	return &cal, nil
}

// SetCalibration stores a calibration for a camera.
func (r *RedisStore) SetCalibration(ctx context.Context, cameraID string, cal frame.Calibration) error {
	data, err := json.Marshal(cal)
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	if err := r.rdb.Set(ctx, calibrationKeyPrefix+cameraID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write calibration for %s: %w", cameraID, err)
	}
	return nil
}
