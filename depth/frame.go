// Package depth defines the 16 bit depth frames a depth camera streams
// and the per-stream metadata the projection engine is prepared with.
package depth

import (
	"time"

	"github.com/pkg/errors"
)

// Encoding16UC1 is a single channel of unsigned 16 bit readings, the only
// sample format depth cameras in this module produce.
const Encoding16UC1 = "16UC1"

const (
	// DefaultDepthScale converts raw millimeter readings to meters.
	DefaultDepthScale = 0.001
	// InvalidDepth is the raw reading a camera reports when a pixel has
	// no measurement.
	InvalidDepth uint16 = 0
)

// Frame is one depth image. Samples holds one reading per pixel in row
// major order, in the camera's native units (usually millimeters).
type Frame struct {
	Width    int
	Height   int
	Encoding string
	// Stamp is the capture time reported by the camera.
	Stamp   time.Time
	Samples []uint16
}

// NewFrame returns an empty frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Encoding: Encoding16UC1,
		Samples:  make([]uint16, width*height),
	}
}

// NewFrameFromSamples wraps existing readings in a frame without copying them.
func NewFrameFromSamples(width, height int, samples []uint16, stamp time.Time) (*Frame, error) {
	f := &Frame{
		Width:    width,
		Height:   height,
		Encoding: Encoding16UC1,
		Stamp:    stamp,
		Samples:  samples,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the frame's geometry and encoding.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("invalid frame size (%d, %d)", f.Width, f.Height)
	}
	if f.Encoding != Encoding16UC1 {
		return errors.Errorf("unsupported depth encoding %q", f.Encoding)
	}
	if len(f.Samples) != f.Width*f.Height {
		return errors.Errorf("frame of size (%d, %d) has %d samples, expected %d",
			f.Width, f.Height, len(f.Samples), f.Width*f.Height)
	}
	return nil
}

// PixelCount returns the number of pixels in the frame.
func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// At returns the reading at (x, y).
func (f *Frame) At(x, y int) uint16 {
	return f.Samples[y*f.Width+x]
}

// Set stores a reading at (x, y).
func (f *Frame) Set(x, y int, d uint16) {
	f.Samples[y*f.Width+x] = d
}

// Metadata fixes the geometry and depth interpretation a projection
// kernel is built for. It is comparable so an engine can tell whether a
// stream's geometry changed and its device state must be rebuilt.
type Metadata struct {
	Width      int
	Height     int
	PixelCount int
	// DepthScale converts raw readings to meters.
	DepthScale float64
	// InvalidDepth is the raw reading marking a pixel with no measurement.
	InvalidDepth uint16
	// MaxDepth is the far cutoff in meters. Zero disables the cutoff.
	MaxDepth float64
}

// NewMetadata builds metadata for frames of the given dimensions using the
// default millimeter scale.
func NewMetadata(width, height int, maxDepth float64) (Metadata, error) {
	md := Metadata{
		Width:        width,
		Height:       height,
		PixelCount:   width * height,
		DepthScale:   DefaultDepthScale,
		InvalidDepth: InvalidDepth,
		MaxDepth:     maxDepth,
	}
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// MetadataForFrame builds metadata matching a frame's geometry.
func MetadataForFrame(f *Frame, maxDepth float64) (Metadata, error) {
	if err := f.Validate(); err != nil {
		return Metadata{}, err
	}
	return NewMetadata(f.Width, f.Height, maxDepth)
}

// Validate checks that the metadata describes a projectable stream.
func (md Metadata) Validate() error {
	if md.Width <= 0 || md.Height <= 0 {
		return errors.Errorf("invalid frame size (%d, %d)", md.Width, md.Height)
	}
	if md.PixelCount != md.Width*md.Height {
		return errors.Errorf("pixel count %d does not match size (%d, %d)", md.PixelCount, md.Width, md.Height)
	}
	if md.DepthScale <= 0 {
		return errors.Errorf("invalid depth scale %f", md.DepthScale)
	}
	if md.MaxDepth < 0 {
		return errors.Errorf("invalid max depth %f", md.MaxDepth)
	}
	return nil
}
