package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/frame"
)

// a perspective transform typical of a pole-mounted camera
var roadHomography = [][]float64{
	{0.021, -0.004, -3.1},
	{0.0005, 0.048, -12.7},
	{0.00001, 0.0009, 1},
}

func TestHomographyRoundTrip(t *testing.T) {
	h, err := NewHomography(roadHomography)
	require.NoError(t, err)
	inv, err := h.Inverse()
	require.NoError(t, err)

	for _, p := range []frame.Point{{X: 0, Y: 0}, {X: 640, Y: 360}, {X: 1200.5, Y: 80.25}, {X: 33, Y: 700}} {
		back := inv.Project(h.Project(p))
		assert.InDelta(t, p.X, back.X, 1e-6, "x for %v", p)
		assert.InDelta(t, p.Y, back.Y, 1e-6, "y for %v", p)
	}
}

func TestHomographyIdentity(t *testing.T) {
	h, err := NewHomography([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, frame.Point{X: 12, Y: -4}, h.Project(frame.Point{X: 12, Y: -4}))
}

func TestHomographyDegenerateReturnsInput(t *testing.T) {
	// third row zeroes the homogeneous coordinate for every point
	h, err := NewHomography([][]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 0}})
	require.NoError(t, err)

	p := frame.Point{X: 7, Y: 9}
	assert.Equal(t, p, h.Project(p))

	_, err = h.Inverse()
	assert.Error(t, err)
}

func TestNewHomographyRejectsBadShape(t *testing.T) {
	_, err := NewHomography([][]float64{{1, 0, 0}, {0, 1, 0}})
	assert.Error(t, err)
	_, err = NewHomography([][]float64{{1, 0}, {0, 1, 0}, {0, 0, 1}})
	assert.Error(t, err)
}

func TestDistance(t *testing.T) {
	a, b := frame.Point{X: 0, Y: 0}, frame.Point{X: 30, Y: 40}
	mpp := 0.1

	tests := []struct {
		name string
		cal  *frame.Calibration
		want float64
	}{
		{"no calibration uses pixels", nil, 50},
		{"empty calibration uses pixels", &frame.Calibration{}, 50},
		{"scale factor", &frame.Calibration{MetersPerPixel: &mpp}, 5},
		{
			"homography wins over scale",
			&frame.Calibration{
				MetersPerPixel: &mpp,
				Homography:     [][]float64{{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 1}},
			},
			25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.cal, a, b), 1e-9)
		})
	}
}

func TestDistanceThroughPerspective(t *testing.T) {
	cal := &frame.Calibration{Homography: roadHomography}
	h, err := NewHomography(roadHomography)
	require.NoError(t, err)

	a, b := frame.Point{X: 400, Y: 300}, frame.Point{X: 410, Y: 330}
	pa, pb := h.Project(a), h.Project(b)
	want := math.Hypot(pb.X-pa.X, pb.Y-pa.Y)

	assert.InDelta(t, want, Distance(cal, a, b), 1e-12)
}

func TestCheck(t *testing.T) {
	mpp := 0.05
	assert.NoError(t, Check(frame.Calibration{MetersPerPixel: &mpp}))
	assert.NoError(t, Check(frame.Calibration{Homography: roadHomography}))

	err := Check(frame.Calibration{Homography: [][]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 0}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, frame.ErrInvalid))
}
