// Package projection turns 16 bit depth frames into organized point
// clouds with a compute kernel held on a device backend.
//
// An Engine starts uninitialized. Prepare compiles the projection kernel
// for one stream geometry and allocates its device buffers, after which
// Project turns frames into clouds without touching the allocator on the
// device. Preparing again with unchanged metadata and transform is a
// no-op; changed metadata tears the kernel down and rebuilds it. A setup
// failure or a lost device moves the engine to failed, where Project
// refuses frames until a later Prepare succeeds.
package projection

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/depthcloud/camera"
	"go.viam.com/depthcloud/compute"
	"go.viam.com/depthcloud/depth"
	"go.viam.com/depthcloud/pointcloud"
)

// State is the lifecycle position of an Engine.
type State int

const (
	// StateUninitialized means Prepare has not succeeded yet.
	StateUninitialized State = iota
	// StatePrepared means the kernel and buffers are ready for frames.
	StatePrepared
	// StateFailed means setup failed or the device was lost. A later
	// Prepare may recover the engine.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePrepared:
		return "prepared"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config selects how an Engine acquires its kernel and device.
type Config struct {
	// Backend selects a registered compute backend by name. Empty picks
	// the registry default.
	Backend string `json:"backend,omitempty"`
	// KernelSourcePath overrides the embedded projection kernel.
	KernelSourcePath string `json:"kernel_source_path,omitempty"`
}

// Engine projects depth frames into organized point clouds. All methods
// are safe for concurrent use, though frames are projected one at a time.
type Engine struct {
	mu     sync.Mutex
	logger golog.Logger
	cfg    Config

	backend     compute.Backend
	ownsBackend bool
	program     compute.Program

	md  depth.Metadata
	tf  camera.Transform
	out []float32

	state State
}

// New returns an engine that opens its compute backend from the registry
// on first Prepare.
func New(cfg Config, logger golog.Logger) *Engine {
	if logger == nil {
		logger = golog.Global()
	}
	return &Engine{logger: logger, cfg: cfg}
}

// NewWithBackend returns an engine bound to an already open backend. The
// caller keeps ownership of the backend; Close will not touch it.
func NewWithBackend(backend compute.Backend, cfg Config, logger golog.Logger) *Engine {
	if logger == nil {
		logger = golog.Global()
	}
	return &Engine{logger: logger, cfg: cfg, backend: backend}
}

// State returns the engine's lifecycle position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Prepare compiles the projection kernel for the given stream geometry
// and calibration and allocates the device buffers frames will run
// through. Preparing an already prepared engine with unchanged arguments
// returns immediately; anything else is a full rebuild. On failure the
// engine is failed until a later Prepare succeeds.
func (e *Engine) Prepare(md depth.Metadata, tf camera.Transform) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StatePrepared && md == e.md && tf == e.tf {
		return nil
	}

	if err := md.Validate(); err != nil {
		return e.fail(&SetupError{Err: err})
	}
	if err := tf.CheckValid(); err != nil {
		return e.fail(&SetupError{Err: err})
	}

	if e.backend == nil {
		backend, err := e.openBackend()
		if err != nil {
			return e.fail(errors.Wrapf(ErrUnsupportedBackend, "%s", err))
		}
		e.backend = backend
		e.ownsBackend = true
		e.logger.Infow("opened compute backend", "backend", backend.Name())
	}

	source, err := loadKernelSource(e.cfg.KernelSourcePath)
	if err != nil {
		return e.fail(&SetupError{Err: err})
	}

	program, err := e.backend.NewProgram(compute.ProgramConfig{
		Source:     source,
		EntryPoint: KernelEntryPoint,
		Params:     kernelParams(md, tf),
	})
	if err != nil {
		return e.fail(&SetupError{Err: err})
	}

	if e.program != nil {
		if err := e.program.Close(); err != nil {
			e.logger.Errorw("closing previous kernel program", "error", err)
		}
	}
	e.program = program
	e.md = md
	e.tf = tf
	e.out = make([]float32, 4*md.PixelCount)
	e.state = StatePrepared
	e.logger.Debugw("projection engine prepared",
		"width", md.Width,
		"height", md.Height,
		"max_depth_m", md.MaxDepth)
	return nil
}

func (e *Engine) fail(err error) error {
	e.state = StateFailed
	return err
}

func (e *Engine) openBackend() (compute.Backend, error) {
	if e.cfg.Backend != "" {
		return compute.Open(e.cfg.Backend, e.logger)
	}
	return compute.OpenDefault(e.logger)
}

// kernelParams packs stream metadata and calibration into the uniform
// block the kernel reads.
func kernelParams(md depth.Metadata, tf camera.Transform) compute.KernelParams {
	return compute.KernelParams{
		Width:        uint32(md.Width),
		Height:       uint32(md.Height),
		DepthScale:   float32(md.DepthScale),
		InvalidDepth: uint32(md.InvalidDepth),
		MaxDepth:     float32(md.MaxDepth),
		NaN:          float32(math.NaN()),
		Cx:           float32(tf.Cx),
		Cy:           float32(tf.Cy),
		Fx:           float32(tf.Fx),
		Fy:           float32(tf.Fy),
	}
}

// Project runs one frame through the prepared kernel and returns a fresh
// cloud with one point per pixel in the frame's row major order. Pixels
// without a usable measurement hold the all-NaN marker. The cloud
// inherits the frame's stamp in microseconds.
func (e *Engine) Project(frame *depth.Frame) (*pointcloud.Cloud, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePrepared {
		return nil, errors.Wrapf(ErrNotPrepared, "engine state is %s", e.state)
	}
	if frame == nil {
		return nil, errors.New("frame is nil")
	}
	if len(frame.Samples) != e.md.PixelCount {
		return nil, &SizeMismatchError{Got: len(frame.Samples), Want: e.md.PixelCount}
	}

	if err := e.program.Run(frame.Samples, e.out); err != nil {
		if errors.Is(err, compute.ErrDeviceLost) {
			e.state = StateFailed
			return nil, &ProjectionError{Err: err, BackendLost: true}
		}
		return nil, &ProjectionError{Err: err}
	}

	cloud := pointcloud.NewCloud(e.md.Width, e.md.Height)
	if !frame.Stamp.IsZero() {
		cloud.Stamp = uint64(frame.Stamp.UnixMicro())
	}
	for i := 0; i < e.md.PixelCount; i++ {
		cloud.Points[i] = r3.Vector{
			X: float64(e.out[4*i]),
			Y: float64(e.out[4*i+1]),
			Z: float64(e.out[4*i+2]),
		}
	}
	return cloud, nil
}

// Close releases the kernel program and, when the engine opened its own
// backend, the backend too. The engine returns to uninitialized.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.program != nil {
		err = multierr.Combine(err, e.program.Close())
		e.program = nil
	}
	if e.backend != nil && e.ownsBackend {
		err = multierr.Combine(err, e.backend.Close())
	}
	e.backend = nil
	e.ownsBackend = false
	e.out = nil
	e.state = StateUninitialized
	return err
}
