package speed

import (
	"context"
	"fmt"

	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/units"
)

// Sample is the speed reading for one detection. SpeedKMPH is non-nil only
// once the track has at least min_samples observations behind it.
type Sample struct {
	CameraID     string     `json:"camera_id"`
	TrackingID   string     `json:"tracking_id"`
	ClassName    *string    `json:"class_name"`
	BBox         frame.BBox `json:"bbox"`
	Samples      int        `json:"samples"`
	SpeedKMPHRaw *float64   `json:"speed_kmph_raw"`
	SpeedKMPH    *float64   `json:"speed_kmph"`
	TsMs         *int64     `json:"ts_ms"`
}

// Estimator converts successive centroids of a track into speeds.
type Estimator struct {
	store state.Store
}

// NewEstimator returns an Estimator backed by store.
func NewEstimator(store state.Store) *Estimator {
	return &Estimator{store: store}
}

// UpdateEMA folds raw into the smoothed speed. The first transition of a
// track (prevSamples == 0) seeds the average with raw instead of blending it
// with the initial zero.
func UpdateEMA(prevEMA float64, prevSamples int, raw, alpha float64) float64 {
	if prevSamples == 0 {
		return raw
	}
	return alpha*raw + (1-alpha)*prevEMA
}

// Estimate reads the track's state, computes the sample for d and writes the
// updated state back. d must come from a validated frame.
func (e *Estimator) Estimate(
	ctx context.Context,
	cameraID string,
	d frame.Detection,
	cal *frame.Calibration,
	dtSeconds float64,
	smoothing frame.SmoothingParams,
) (Sample, error) {
	c := d.Center()
	sample := Sample{
		CameraID:   cameraID,
		TrackingID: d.TrackingID,
		ClassName:  d.ClassName,
		BBox:       *d.BBox,
	}

	prev, err := e.store.GetTrack(ctx, cameraID, d.TrackingID)
	if err != nil {
		return Sample{}, transportError(err)
	}

	if prev == nil {
		if err := e.store.PutTrack(ctx, cameraID, d.TrackingID, state.TrackState{LastX: c.X, LastY: c.Y}); err != nil {
			return Sample{}, transportError(err)
		}
		return sample, nil
	}

	dist := calibration.Distance(cal, frame.Point{X: prev.LastX, Y: prev.LastY}, c)
	raw := units.SpeedKMPH(dist, dtSeconds)
	next := state.TrackState{
		LastX:   c.X,
		LastY:   c.Y,
		VEMA:    UpdateEMA(prev.VEMA, prev.Samples, raw, smoothing.Alpha),
		Samples: prev.Samples + 1,
	}
	if err := e.store.PutTrack(ctx, cameraID, d.TrackingID, next); err != nil {
		return Sample{}, transportError(err)
	}

	sample.Samples = next.Samples
	sample.SpeedKMPHRaw = &raw
	if next.Samples >= smoothing.MinSamples {
		v := next.VEMA
		sample.SpeedKMPH = &v
	}
	return sample, nil
}

func transportError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
