package frame

import (
	"encoding/json"
	"fmt"
)

// Point is a 2D pixel coordinate, encoded as [x, y].
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes the point as a two element array.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes a two element array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("point must be [x, y]: %w", err)
	}
	if len(v) != 2 {
		return fmt.Errorf("point must have 2 values, got %d", len(v))
	}
	p.X, p.Y = v[0], v[1]
	return nil
}

// BBox is an axis-aligned box in pixels, encoded as [x, y, width, height].
type BBox struct {
	X float64
	Y float64
	W float64
	H float64
}

// Center returns the centre of the box.
func (b BBox) Center() Point {
	return Point{X: b.X + b.W/2.0, Y: b.Y + b.H/2.0}
}

// MarshalJSON encodes the box as a four element array.
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON decodes a four element array.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bbox must be [x, y, w, h]: %w", err)
	}
	if len(v) != 4 {
		return fmt.Errorf("bbox must have 4 values, got %d", len(v))
	}
	b.X, b.Y, b.W, b.H = v[0], v[1], v[2], v[3]
	return nil
}
