// Package state holds the per-track records the speed engine reads and
// rewrites: track state, the violation cooldown timestamp and the dedup
// guard. The two record kinds are independent; no transaction spans them.
//
// Correctness relies on a single writer per (camera, track). Two processors
// sharing a camera may lose updates (last writer wins).
package state

import (
	"context"
	"time"
)

// Default retention windows.
const (
	DefaultStateTTL = time.Hour
	DefaultDedupTTL = time.Minute
)

// TrackState is the last known observation of one track.
type TrackState struct {
	LastX   float64 `json:"cx"`
	LastY   float64 `json:"cy"`
	VEMA    float64 `json:"v_ema"`
	Samples int     `json:"samples"`
}

// Store persists per-track state. Get methods return a nil/false result,
// not an error, when the record is absent or expired.
type Store interface {
	// GetTrack returns the state for the track or nil.
	GetTrack(ctx context.Context, cameraID, trackID string) (*TrackState, error)
	// PutTrack writes the state and refreshes its expiry.
	PutTrack(ctx context.Context, cameraID, trackID string, s TrackState) error
	// GetCooldown returns the epoch seconds of the last violation.
	GetCooldown(ctx context.Context, cameraID, trackID string) (int64, bool, error)
	// SetCooldown records the epoch seconds of a violation.
	SetCooldown(ctx context.Context, cameraID, trackID string, epochSeconds int64) error
	// ClaimDedupe atomically creates the guard for key with the given
	// expiry. It reports false when the guard already exists.
	ClaimDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Pruner is implemented by stores that need expired records removed
// explicitly.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}
