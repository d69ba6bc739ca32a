// Package compute abstracts the devices that can run the projection
// kernel and keeps a registry of the available backend implementations.
package compute

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNoBackend is returned when no registered backend can open a device.
	ErrNoBackend = errors.New("no compute backend available")
	// ErrDeviceLost means the device backing a program is gone and the
	// program cannot be used again.
	ErrDeviceLost = errors.New("compute device lost")
)

// Limits describes how much a device can hold and dispatch.
type Limits struct {
	MaxBufferSize              uint64
	MaxInvocationsPerWorkgroup uint32
}

// ParamsSize is the byte length of the serialized uniform block.
const ParamsSize = 48

// KernelParams is the uniform block handed to the projection kernel. The
// layout matches the Params struct in the WGSL source: ten 32 bit scalars
// followed by two pad words.
type KernelParams struct {
	Width  uint32
	Height uint32
	// DepthScale converts raw readings to meters.
	DepthScale float32
	// InvalidDepth is the raw reading marking an unmeasured pixel.
	InvalidDepth uint32
	// MaxDepth is the far cutoff in meters. Zero disables it.
	MaxDepth float32
	// NaN is the marker written to every lane of an unprojectable pixel.
	NaN float32
	// Cx, Cy are the principal point and Fx, Fy the focal lengths of the
	// pinhole projection, all in pixels.
	Cx float32
	Cy float32
	Fx float32
	Fy float32
}

// PixelCount returns the number of pixels the params describe.
func (p KernelParams) PixelCount() int {
	return int(p.Width) * int(p.Height)
}

// Validate checks that the params describe a projectable frame.
func (p KernelParams) Validate() error {
	if p.Width == 0 || p.Height == 0 {
		return errors.Errorf("invalid kernel frame size (%d, %d)", p.Width, p.Height)
	}
	if p.DepthScale <= 0 {
		return errors.Errorf("invalid depth scale %f", p.DepthScale)
	}
	if p.MaxDepth < 0 {
		return errors.Errorf("invalid max depth %f", p.MaxDepth)
	}
	if p.Fx <= 0 || p.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%f, %f)", p.Fx, p.Fy)
	}
	return nil
}

// ToBytes serializes the params in the kernel's uniform layout.
func (p KernelParams) ToBytes() []byte {
	buf := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Width)
	binary.LittleEndian.PutUint32(buf[4:8], p.Height)
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.DepthScale))
	binary.LittleEndian.PutUint32(buf[12:16], p.InvalidDepth)
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(p.MaxDepth))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(p.NaN))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(p.Cx))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(p.Cy))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(p.Fx))
	binary.LittleEndian.PutUint32(buf[36:40], math.Float32bits(p.Fy))
	// bytes 40 through 47 are pad words
	return buf
}

// ProgramConfig describes a kernel to build on a backend.
type ProgramConfig struct {
	// Source is WGSL text.
	Source []byte
	// EntryPoint is the kernel function to bind. Empty means "main".
	EntryPoint string
	Params     KernelParams
}

// Program is a projection kernel prepared on a device for one stream
// geometry. Implementations keep their device buffers between runs.
type Program interface {
	// Run projects one frame of raw readings into out, which receives
	// four floats (x, y, z in meters plus one unused lane) per pixel.
	Run(depth []uint16, out []float32) error
	Close() error
}

// Backend is an open handle on a compute device.
type Backend interface {
	Name() string
	Limits() Limits
	NewProgram(cfg ProgramConfig) (Program, error)
	Close() error
}
