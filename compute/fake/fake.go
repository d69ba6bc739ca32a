// Package fake provides an in-memory compute backend for tests. It runs
// the projection math on the host. It is not registered with the backend
// registry; inject it with projection.NewWithBackend.
package fake

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/depthcloud/compute"
)

// runShards is the number of goroutines sharing a projection run.
const runShards = 4

// Backend is a fake compute device. The zero value is usable. Error
// fields, once set, are returned by the matching operations so tests can
// steer failure paths.
type Backend struct {
	mu sync.Mutex

	newProgramErr error
	runErr        error
	closeErr      error
	maxBufferSize uint64

	newProgramCalls int
	runCalls        int
	programCloses   int
	closed          bool
}

// NewBackend returns a fake backend with effectively unlimited buffers.
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements compute.Backend.
func (b *Backend) Name() string {
	return "fake"
}

// Limits implements compute.Backend.
func (b *Backend) Limits() compute.Limits {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := b.maxBufferSize
	if size == 0 {
		size = math.MaxUint64
	}
	return compute.Limits{MaxBufferSize: size, MaxInvocationsPerWorkgroup: 64}
}

// SetMaxBufferSize caps the buffer size the fake will accept for a program.
func (b *Backend) SetMaxBufferSize(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxBufferSize = n
}

// SetNewProgramError makes NewProgram fail with err until cleared with nil.
func (b *Backend) SetNewProgramError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newProgramErr = err
}

// SetRunError makes program runs fail with err until cleared with nil.
func (b *Backend) SetRunError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runErr = err
}

// SetCloseError makes program closes fail with err until cleared with nil.
func (b *Backend) SetCloseError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeErr = err
}

// NewProgramCalls reports how many programs were requested.
func (b *Backend) NewProgramCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newProgramCalls
}

// RunCalls reports how many frames were run across all programs.
func (b *Backend) RunCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCalls
}

// ProgramCloses reports how many programs were closed.
func (b *Backend) ProgramCloses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.programCloses
}

// Closed reports whether the backend itself was closed.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// NewProgram implements compute.Backend.
func (b *Backend) NewProgram(cfg compute.ProgramConfig) (compute.Program, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newProgramCalls++
	if b.newProgramErr != nil {
		return nil, b.newProgramErr
	}
	if len(cfg.Source) == 0 {
		return nil, errors.New("kernel source is empty")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if b.maxBufferSize > 0 {
		outSize := uint64(cfg.Params.PixelCount()) * 16
		if outSize > b.maxBufferSize {
			return nil, errors.Errorf("output buffer of %d bytes exceeds limit %d", outSize, b.maxBufferSize)
		}
	}
	return &program{backend: b, params: cfg.Params}, nil
}

// Close implements compute.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type program struct {
	backend *Backend
	params  compute.KernelParams
	closed  bool
}

// Run projects the frame with the same float32 arithmetic the device
// kernels use, rows sharded across a fixed number of goroutines.
func (p *program) Run(depth []uint16, out []float32) error {
	p.backend.mu.Lock()
	p.backend.runCalls++
	runErr := p.backend.runErr
	p.backend.mu.Unlock()

	if p.closed {
		return errors.New("program is closed")
	}
	if runErr != nil {
		return runErr
	}
	if len(depth) != p.params.PixelCount() {
		return errors.Errorf("got %d depth samples, program was built for %d", len(depth), p.params.PixelCount())
	}
	if len(out) != 4*len(depth) {
		return errors.Errorf("output slice holds %d floats, program writes %d", len(out), 4*len(depth))
	}

	params := p.params
	width := int(params.Width)
	var wg sync.WaitGroup
	wg.Add(runShards)
	for shard := 0; shard < runShards; shard++ {
		shardCopy := shard
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for row := shardCopy; row < int(params.Height); row += runShards {
				for col := 0; col < width; col++ {
					i := row*width + col
					d := depth[i]
					z := float32(d) * params.DepthScale
					if uint32(d) == params.InvalidDepth || (params.MaxDepth > 0 && z > params.MaxDepth) {
						out[4*i] = params.NaN
						out[4*i+1] = params.NaN
						out[4*i+2] = params.NaN
						out[4*i+3] = 0
						continue
					}
					out[4*i] = (float32(col) - params.Cx) * z / params.Fx
					out[4*i+1] = (float32(row) - params.Cy) * z / params.Fy
					out[4*i+2] = z
					out[4*i+3] = 0
				}
			}
		})
	}
	wg.Wait()
	return nil
}

func (p *program) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.backend.mu.Lock()
	p.backend.programCloses++
	closeErr := p.backend.closeErr
	p.backend.mu.Unlock()
	return closeErr
}
