package calibration

import (
	"context"
	"sort"
	"sync"

	"github.com/banshee-data/speedwatch/internal/frame"
)

// Source returns the stored calibration for a camera, or nil when the camera
// has none.
type Source interface {
	Calibration(ctx context.Context, cameraID string) (*frame.Calibration, error)
}

// Chain consults each source in order and returns the first hit.
type Chain []Source

// Calibration implements Source.
func (c Chain) Calibration(ctx context.Context, cameraID string) (*frame.Calibration, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		cal, err := src.Calibration(ctx, cameraID)
		if err != nil {
			return nil, err
		}
		if cal != nil {
			return cal, nil
		}
	}
	return nil, nil
}

// ForFrame resolves the calibration for f. A frame that carries a
// homography or scale factor uses it; otherwise src is consulted. A nil
// result means distances stay in pixels.
func ForFrame(ctx context.Context, f *frame.Frame, src Source) (*frame.Calibration, error) {
	if c := f.Calibration; c != nil && (c.HasHomography() || c.MetersPerPixel != nil) {
		return c, nil
	}
	if src == nil {
		return f.Calibration, nil
	}
	cal, err := src.Calibration(ctx, f.CameraID)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return f.Calibration, nil
	}
	return cal, nil
}

// Loader reads the full set of configured calibrations.
type Loader func() (map[string]frame.Calibration, error)

// Static serves calibrations held in memory, typically from the service
// config file, and can re-read them through its Loader.
type Static struct {
	mu       sync.RWMutex
	byCamera map[string]frame.Calibration
	load     Loader
}

// NewStatic returns a Static seeded with initial.
func NewStatic(initial map[string]frame.Calibration, load Loader) *Static {
	s := &Static{byCamera: make(map[string]frame.Calibration, len(initial)), load: load}
	for id, cal := range initial {
		s.byCamera[id] = cal
	}
	return s
}

// Calibration implements Source.
func (s *Static) Calibration(_ context.Context, cameraID string) (*frame.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cal, ok := s.byCamera[cameraID]
	if !ok {
		return nil, nil
	}
	return &cal, nil
}

// Reload re-reads calibrations and applies them to cameraIDs, or to every
// camera when cameraIDs is empty. Cameras no longer configured are dropped.
// It returns the sorted ids that were reloaded.
func (s *Static) Reload(cameraIDs []string) ([]string, error) {
	if s.load == nil {
		return []string{}, nil
	}
	fresh, err := s.load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(cameraIDs) == 0 {
		cameraIDs = make([]string, 0, len(fresh)+len(s.byCamera))
		seen := make(map[string]bool)
		for id := range fresh {
			cameraIDs = append(cameraIDs, id)
			seen[id] = true
		}
		for id := range s.byCamera {
			if !seen[id] {
				cameraIDs = append(cameraIDs, id)
			}
		}
	}

	reloaded := make([]string, 0, len(cameraIDs))
	for _, id := range cameraIDs {
		if cal, ok := fresh[id]; ok {
			s.byCamera[id] = cal
		} else {
			delete(s.byCamera, id)
		}
		reloaded = append(reloaded, id)
	}
	sort.Strings(reloaded)
	return reloaded, nil
}
