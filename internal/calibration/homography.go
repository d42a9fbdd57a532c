// Package calibration converts pixel displacement into ground-plane distance
// and resolves the per-camera calibration used for it.
package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/speedwatch/internal/frame"
)

// Homography is a 3x3 projective transform from pixel to ground coordinates.
type Homography struct {
	m *mat.Dense
}

// NewHomography builds a homography from row-major 3x3 values.
func NewHomography(rows [][]float64) (*Homography, error) {
	if len(rows) != 3 {
		return nil, fmt.Errorf("homography must have 3 rows, got %d", len(rows))
	}
	data := make([]float64, 0, 9)
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("homography row %d must have 3 values, got %d", i, len(row))
		}
		data = append(data, row...)
	}
	return &Homography{m: mat.NewDense(3, 3, data)}, nil
}

// Project maps p through the homography. When the homogeneous coordinate is
// zero the point is returned untransformed.
func (h *Homography) Project(p frame.Point) frame.Point {
	var out mat.VecDense
	out.MulVec(h.m, mat.NewVecDense(3, []float64{p.X, p.Y, 1}))
	w := out.AtVec(2)
	if w == 0 {
		return p
	}
	return frame.Point{X: out.AtVec(0) / w, Y: out.AtVec(1) / w}
}

// Inverse returns the ground-to-pixel transform.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.m); err != nil {
		return nil, fmt.Errorf("homography is not invertible: %w", err)
	}
	return &Homography{m: &inv}, nil
}

// Check validates a calibration before it is stored: the frame-level shape
// rules plus an invertible homography, so a stored transform can always be
// mapped back to pixels. Failures wrap frame.ErrInvalid.
func Check(cal frame.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if !cal.HasHomography() {
		return nil
	}
	h, err := NewHomography(cal.Homography)
	if err != nil {
		return fmt.Errorf("%w: %w", frame.ErrInvalid, err)
	}
	if _, err := h.Inverse(); err != nil {
		return fmt.Errorf("%w: %w", frame.ErrInvalid, err)
	}
	return nil
}

// Distance returns the distance between two pixel positions under cal:
// projected ground distance with a homography, scaled pixel distance with
// meters_per_pixel, raw pixel distance otherwise.
func Distance(cal *frame.Calibration, a, b frame.Point) float64 {
	if cal.HasHomography() {
		if h, err := NewHomography(cal.Homography); err == nil {
			pa, pb := h.Project(a), h.Project(b)
			return math.Hypot(pb.X-pa.X, pb.Y-pa.Y)
		}
	}
	px := math.Hypot(b.X-a.X, b.Y-a.Y)
	if cal != nil && cal.MetersPerPixel != nil {
		return px * *cal.MetersPerPixel
	}
	return px
}
