package state

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/speedwatch/internal/timeutil"
)

type trackKey struct {
	camera string
	track  string
}

type trackEntry struct {
	state   TrackState
	expires time.Time
}

// MemoryStore keeps state in process memory. It is used by tests, by the
// dev replay mode and for isolated test-mode scopes.
type MemoryStore struct {
	mu        sync.Mutex
	clock     timeutil.Clock
	stateTTL  time.Duration
	tracks    map[trackKey]trackEntry
	cooldowns map[trackKey]int64
	guards    map[string]time.Time
}

// NewMemoryStore returns an empty store. A zero stateTTL selects
// DefaultStateTTL; a nil clock uses the wall clock.
func NewMemoryStore(clock timeutil.Clock, stateTTL time.Duration) *MemoryStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &MemoryStore{
		clock:     clock,
		stateTTL:  stateTTL,
		tracks:    make(map[trackKey]trackEntry),
		cooldowns: make(map[trackKey]int64),
		guards:    make(map[string]time.Time),
	}
}

// GetTrack implements Store.
func (m *MemoryStore) GetTrack(_ context.Context, cameraID, trackID string) (*TrackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := trackKey{cameraID, trackID}
	e, ok := m.tracks[k]
	if !ok {
		return nil, nil
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.tracks, k)
		return nil, nil
	}
	s := e.state
	return &s, nil
}

// PutTrack implements Store.
func (m *MemoryStore) PutTrack(_ context.Context, cameraID, trackID string, s TrackState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[trackKey{cameraID, trackID}] = trackEntry{state: s, expires: m.clock.Now().Add(m.stateTTL)}
	return nil
}

// GetCooldown implements Store.
func (m *MemoryStore) GetCooldown(_ context.Context, cameraID, trackID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.cooldowns[trackKey{cameraID, trackID}]
	return ts, ok, nil
}

// SetCooldown implements Store.
func (m *MemoryStore) SetCooldown(_ context.Context, cameraID, trackID string, epochSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[trackKey{cameraID, trackID}] = epochSeconds
	return nil
}

// ClaimDedupe implements Store.
func (m *MemoryStore) ClaimDedupe(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if exp, ok := m.guards[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.guards[key] = now.Add(ttl)
	return true, nil
}

// Prune drops expired tracks and guards.
func (m *MemoryStore) Prune(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var n int64
	for k, e := range m.tracks {
		if !now.Before(e.expires) {
			delete(m.tracks, k)
			n++
		}
	}
	for k, exp := range m.guards {
		if !now.Before(exp) {
			delete(m.guards, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live track records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}
