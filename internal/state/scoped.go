package state

import (
	"context"
	"time"
)

// Scoped namespaces another store by prefixing camera ids and dedupe keys,
// so test-mode requests can share a backend without touching production
// tracks.
type Scoped struct {
	Store  Store
	Prefix string
}

// NewScoped wraps s under prefix.
func NewScoped(s Store, prefix string) *Scoped {
	return &Scoped{Store: s, Prefix: prefix}
}

func (s *Scoped) camera(id string) string { return s.Prefix + id }

// GetTrack implements Store.
func (s *Scoped) GetTrack(ctx context.Context, cameraID, trackID string) (*TrackState, error) {
	return s.Store.GetTrack(ctx, s.camera(cameraID), trackID)
}

// PutTrack implements Store.
func (s *Scoped) PutTrack(ctx context.Context, cameraID, trackID string, st TrackState) error {
	return s.Store.PutTrack(ctx, s.camera(cameraID), trackID, st)
}

// GetCooldown implements Store.
func (s *Scoped) GetCooldown(ctx context.Context, cameraID, trackID string) (int64, bool, error) {
	return s.Store.GetCooldown(ctx, s.camera(cameraID), trackID)
}

// SetCooldown implements Store.
func (s *Scoped) SetCooldown(ctx context.Context, cameraID, trackID string, epochSeconds int64) error {
	return s.Store.SetCooldown(ctx, s.camera(cameraID), trackID, epochSeconds)
}

// ClaimDedupe implements Store.
func (s *Scoped) ClaimDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.Store.ClaimDedupe(ctx, s.Prefix+key, ttl)
}
