package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/speedwatch/internal/units"
)

// ErrInvalid wraps every validation failure. Callers use errors.Is to tell a
// malformed frame apart from a store or transport fault.
var ErrInvalid = errors.New("invalid frame")

// Defaults applied when a frame omits the corresponding setting.
const (
	DefaultFPS           = 5.0
	MinFPS               = 0.1
	DefaultMinConfidence = 0.7
	DefaultEMAAlpha      = 0.35
	DefaultMinSamples    = 3
	DefaultDetectionType = "vehicle"
)

// Detection is one tracked object observed in a frame.
type Detection struct {
	Type       string   `json:"type,omitempty"`
	TrackingID string   `json:"tracking_id"`
	ClassName  *string  `json:"class_name,omitempty"`
	BBox       *BBox    `json:"bbox"`
	Confidence *float64 `json:"confidence,omitempty"`
	Centroid   *Point   `json:"centroid,omitempty"`
}

// Center returns the supplied centroid, or the bbox centre when absent.
// Only valid on a validated detection.
func (d Detection) Center() Point {
	if d.Centroid != nil {
		return *d.Centroid
	}
	return d.BBox.Center()
}

// Calibration converts pixel displacement into ground distance. A homography
// takes priority over MetersPerPixel; with neither set distances stay in
// pixels.
type Calibration struct {
	MetersPerPixel *float64    `json:"meters_per_pixel,omitempty"`
	Homography     [][]float64 `json:"homography,omitempty"`
	SpeedUnit      string      `json:"speed_unit,omitempty"`
}

// HasHomography reports whether a homography is configured.
func (c *Calibration) HasHomography() bool {
	return c != nil && len(c.Homography) > 0
}

// Validate checks the calibration shape.
func (c *Calibration) Validate() error {
	if c == nil {
		return nil
	}
	if c.Homography != nil {
		if len(c.Homography) != 3 {
			return fmt.Errorf("homography must have 3 rows, got %d", len(c.Homography))
		}
		for i, row := range c.Homography {
			if len(row) != 3 {
				return fmt.Errorf("homography row %d must have 3 values, got %d", i, len(row))
			}
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("homography row %d contains a non-finite value", i)
				}
			}
		}
	}
	if c.MetersPerPixel != nil && !(*c.MetersPerPixel > 0) {
		return fmt.Errorf("meters_per_pixel must be positive, got %v", *c.MetersPerPixel)
	}
	if c.SpeedUnit != "" && !units.IsValid(c.SpeedUnit) {
		return fmt.Errorf("speed_unit must be one of %s, got %q", units.GetValidUnitsString(), c.SpeedUnit)
	}
	return nil
}

// Smoothing configures the EMA filter.
type Smoothing struct {
	EMAAlpha   *float64 `json:"ema_alpha,omitempty"`
	MinSamples *int     `json:"min_samples,omitempty"`
}

// SpeedConfig holds the per-frame speed settings.
type SpeedConfig struct {
	SpeedLimitKMPH *float64   `json:"speed_limit_kmph,omitempty"`
	MinConfidence  *float64   `json:"min_confidence,omitempty"`
	Smoothing      *Smoothing `json:"smoothing,omitempty"`
}

// SmoothingParams are the resolved smoothing settings for a frame.
type SmoothingParams struct {
	Alpha      float64
	MinSamples int
}

// Frame is one processed unit from the camera pipeline.
type Frame struct {
	EventID     *string      `json:"event_id,omitempty"`
	CameraID    string       `json:"camera_id"`
	TsMs        *int64       `json:"ts_ms,omitempty"`
	FPS         *float64     `json:"fps,omitempty"`
	ImgRef      *string      `json:"img_ref,omitempty"`
	Detections  []Detection  `json:"detections"`
	Calibration *Calibration `json:"calibration,omitempty"`
	SpeedConfig *SpeedConfig `json:"speed_config,omitempty"`
}

// Decode parses and validates a JSON frame. All failures wrap ErrInvalid.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	for i := range f.Detections {
		if f.Detections[i].Type == "" {
			f.Detections[i].Type = DefaultDetectionType
		}
	}
	return &f, nil
}

// Validate checks required fields and ranges across the whole frame, so a
// single malformed detection rejects the frame before any state is touched.
func (f *Frame) Validate() error {
	if strings.TrimSpace(f.CameraID) == "" {
		return invalid("camera_id is required")
	}
	if f.Detections == nil {
		return invalid("detections is required")
	}
	if f.FPS != nil && !(*f.FPS > 0) {
		return invalid("fps must be positive, got %v", *f.FPS)
	}
	if err := f.Calibration.Validate(); err != nil {
		return invalid("calibration: %v", err)
	}
	if err := f.SpeedConfig.validate(); err != nil {
		return invalid("speed_config: %v", err)
	}
	for i, d := range f.Detections {
		if err := d.validate(); err != nil {
			return invalid("detections[%d]: %v", i, err)
		}
	}
	return nil
}

func (d Detection) validate() error {
	if strings.TrimSpace(d.TrackingID) == "" {
		return errors.New("tracking_id is required")
	}
	if d.BBox == nil {
		return errors.New("bbox is required")
	}
	if d.BBox.W < 0 || d.BBox.H < 0 {
		return fmt.Errorf("bbox width and height must be non-negative")
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("confidence must be in [0,1], got %v", *d.Confidence)
	}
	return nil
}

func (c *SpeedConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.SpeedLimitKMPH != nil && *c.SpeedLimitKMPH < 0 {
		return fmt.Errorf("speed_limit_kmph must be non-negative, got %v", *c.SpeedLimitKMPH)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", *c.MinConfidence)
	}
	if s := c.Smoothing; s != nil {
		if s.EMAAlpha != nil && !(*s.EMAAlpha > 0 && *s.EMAAlpha <= 1) {
			return fmt.Errorf("ema_alpha must be in (0,1], got %v", *s.EMAAlpha)
		}
		if s.MinSamples != nil && *s.MinSamples < 0 {
			return fmt.Errorf("min_samples must be non-negative, got %d", *s.MinSamples)
		}
	}
	return nil
}

func invalid(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, v...))
}

// GetFPS returns the declared frame rate or DefaultFPS.
func (f *Frame) GetFPS() float64 {
	if f.FPS == nil {
		return DefaultFPS
	}
	return *f.FPS
}

// DT returns the seconds between frames, with the rate floored at MinFPS.
func (f *Frame) DT() float64 {
	return 1.0 / math.Max(f.GetFPS(), MinFPS)
}

// GetMinConfidence returns the confidence threshold or the default.
func (f *Frame) GetMinConfidence() float64 {
	if f.SpeedConfig == nil || f.SpeedConfig.MinConfidence == nil {
		return DefaultMinConfidence
	}
	return *f.SpeedConfig.MinConfidence
}

// GetSmoothing returns the resolved smoothing settings.
func (f *Frame) GetSmoothing() SmoothingParams {
	p := SmoothingParams{Alpha: DefaultEMAAlpha, MinSamples: DefaultMinSamples}
	if f.SpeedConfig == nil || f.SpeedConfig.Smoothing == nil {
		return p
	}
	if a := f.SpeedConfig.Smoothing.EMAAlpha; a != nil {
		p.Alpha = *a
	}
	if n := f.SpeedConfig.Smoothing.MinSamples; n != nil {
		p.MinSamples = *n
	}
	return p
}

// SpeedLimit returns the configured limit, if any.
func (f *Frame) SpeedLimit() (float64, bool) {
	if f.SpeedConfig == nil || f.SpeedConfig.SpeedLimitKMPH == nil {
		return 0, false
	}
	return *f.SpeedConfig.SpeedLimitKMPH, true
}

// Accepts reports whether d clears the frame's confidence threshold.
// Detections without a confidence are always accepted.
func (f *Frame) Accepts(d Detection) bool {
	return d.Confidence == nil || *d.Confidence >= f.GetMinConfidence()
}
