// Package pointcloud defines the organized point clouds depth projection
// produces and their PCD serialization.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Cloud is an organized point cloud. Points holds one entry per source
// pixel in row major order, so a cloud keeps the rectangular layout of
// the depth frame it was projected from.
type Cloud struct {
	Width  int
	Height int
	// FrameID names the coordinate frame the points are expressed in.
	FrameID string
	// Stamp is the capture time of the source frame in microseconds
	// since the Unix epoch.
	Stamp uint64
	// Dense reports whether every point is a measurement. Clouds built
	// from depth frames keep an invalid marker per unmeasured pixel, so
	// they are not dense.
	Dense bool
	// Points are in meters.
	Points []r3.Vector
}

// NewCloud returns a cloud of the given dimensions with all points at the
// origin.
func NewCloud(width, height int) *Cloud {
	return &Cloud{
		Width:  width,
		Height: height,
		Points: make([]r3.Vector, width*height),
	}
}

// Size returns the number of points, valid or not.
func (c *Cloud) Size() int {
	return len(c.Points)
}

// At returns the point projected from pixel (x, y).
func (c *Cloud) At(x, y int) r3.Vector {
	return c.Points[y*c.Width+x]
}

// Set stores the point for pixel (x, y).
func (c *Cloud) Set(x, y int, p r3.Vector) {
	c.Points[y*c.Width+x] = p
}

// ValidCount returns the number of points holding real measurements.
func (c *Cloud) ValidCount() int {
	n := 0
	for _, p := range c.Points {
		if !IsInvalid(p) {
			n++
		}
	}
	return n
}

// InvalidPoint returns the marker stored for pixels with no usable
// measurement. Every component is NaN.
func InvalidPoint() r3.Vector {
	nan := math.NaN()
	return r3.Vector{X: nan, Y: nan, Z: nan}
}

// IsInvalid reports whether p marks an unmeasured pixel.
func IsInvalid(p r3.Vector) bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z)
}
