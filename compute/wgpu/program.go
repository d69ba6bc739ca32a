package wgpu

import (
	"encoding/binary"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/depthcloud/compute"
)

// workgroupSize matches the @workgroup_size attribute in the kernel source.
const workgroupSize = 64

// mirrorShards is the number of goroutines sharing the host mirror pass.
const mirrorShards = 8

// program is a compiled projection kernel with its device buffers. The
// uniform block and both storage buffers are created once per stream
// geometry and reused for every frame, so running a frame allocates no
// device memory.
type program struct {
	backend    *Backend
	params     compute.KernelParams
	pixelCount int

	module         hal.ShaderModule
	bgLayout       hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline

	paramsBuf hal.Buffer
	depthBuf  hal.Buffer
	outBuf    hal.Buffer

	// depthStaging widens each u16 reading to the u32 the kernel reads,
	// reused between frames.
	depthStaging []byte

	closed bool
}

// NewProgram compiles the kernel source and allocates the device buffers
// for one stream geometry.
func (b *Backend) NewProgram(cfg compute.ProgramConfig) (compute.Program, error) {
	if len(cfg.Source) == 0 {
		return nil, errors.New("kernel source is empty")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	entryPoint := cfg.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}

	pixelCount := cfg.Params.PixelCount()
	depthSize := uint64(pixelCount) * 4
	outSize := uint64(pixelCount) * 16
	if depthSize > b.limits.MaxBufferSize || outSize > b.limits.MaxBufferSize {
		return nil, errors.Errorf("frame of %d pixels needs a %d byte output buffer, device limit is %d",
			pixelCount, outSize, b.limits.MaxBufferSize)
	}

	spirv, err := compileKernel(cfg.Source)
	if err != nil {
		return nil, errors.Wrap(err, "compile kernel")
	}

	p := &program{
		backend:      b,
		params:       cfg.Params,
		pixelCount:   pixelCount,
		depthStaging: make([]byte, depthSize),
	}

	p.module, err = b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "depth_to_points",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create shader module")
	}

	p.bgLayout, err = b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "depth_to_points_bgl",
		Entries: kernelBindGroupLayoutEntries(),
	})
	if err != nil {
		p.destroyDeviceState()
		return nil, errors.Wrap(err, "create bind group layout")
	}

	p.pipelineLayout, err = b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "depth_to_points_pl",
		BindGroupLayouts: []hal.BindGroupLayout{p.bgLayout},
	})
	if err != nil {
		p.destroyDeviceState()
		return nil, errors.Wrap(err, "create pipeline layout")
	}

	p.pipeline, err = b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "depth_to_points",
		Layout: p.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		p.destroyDeviceState()
		return nil, errors.Wrap(err, "create compute pipeline")
	}

	bufSpecs := []struct {
		target *hal.Buffer
		label  string
		size   uint64
		usage  gputypes.BufferUsage
	}{
		{&p.paramsBuf, "depth_params", compute.ParamsSize, gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst},
		{&p.depthBuf, "depth_samples", depthSize, gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst},
		{&p.outBuf, "depth_points", outSize, gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc},
	}
	for _, s := range bufSpecs {
		buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
			Label: s.label,
			Size:  s.size,
			Usage: s.usage,
		})
		if err != nil {
			p.destroyDeviceState()
			return nil, errors.Wrapf(err, "create %s buffer", s.label)
		}
		*s.target = buf
	}

	b.queue.WriteBuffer(p.paramsBuf, 0, cfg.Params.ToBytes())

	b.logger.Debugw("projection kernel prepared",
		"pixels", pixelCount,
		"spirv_words", len(spirv),
		"workgroups", workgroupCount(pixelCount))
	return p, nil
}

// compileKernel lowers WGSL source to the little endian SPIR-V words the
// HAL loads.
func compileKernel(source []byte) ([]uint32, error) {
	spirvBytes, err := naga.Compile(string(source))
	if err != nil {
		return nil, err
	}
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirv, nil
}

// kernelBindGroupLayoutEntries describes the kernel's bindings:
// @binding(0) uniform params
// @binding(1) storage(read) depth samples
// @binding(2) storage(read_write) projected points
func kernelBindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	return []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
		{
			Binding:    1,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		},
		{
			Binding:    2,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		},
	}
}

// workgroupCount returns how many workgroups cover n pixels.
func workgroupCount(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// Run projects one frame. The compute pass is encoded and submitted so the
// device does the work, but the HAL cannot map device memory back to the
// host yet, so the returned values come from a mirror of the kernel run
// over the same inputs.
//
// TODO: read the points back from outBuf once the HAL grows buffer mapping.
func (p *program) Run(depth []uint16, out []float32) error {
	if p.closed {
		return errors.New("program is closed")
	}
	if len(depth) != p.pixelCount {
		return errors.Errorf("got %d depth samples, kernel was built for %d", len(depth), p.pixelCount)
	}
	if len(out) != 4*p.pixelCount {
		return errors.Errorf("output slice holds %d floats, kernel writes %d", len(out), 4*p.pixelCount)
	}

	for i, d := range depth {
		binary.LittleEndian.PutUint32(p.depthStaging[4*i:], uint32(d))
	}
	p.backend.queue.WriteBuffer(p.depthBuf, 0, p.depthStaging)

	if err := p.dispatch(); err != nil {
		return err
	}

	p.mirror(depth, out)
	return nil
}

// frameResources tracks per-frame device resources for cleanup.
type frameResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

// cleanup destroys all tracked per-frame resources.
func (r *frameResources) cleanup() {
	if r.fence != nil {
		r.device.DestroyFence(r.fence)
	}
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
}

func (p *program) dispatch() error {
	device := p.backend.device
	res := &frameResources{device: device}
	defer res.cleanup()

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "depth_to_points",
	})
	if err != nil {
		return errors.Wrap(err, "create command encoder")
	}
	if err := encoder.BeginEncoding("depth_to_points"); err != nil {
		return errors.Wrap(err, "begin encoding")
	}

	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "depth_to_points_bg",
		Layout: p.bgLayout,
		Entries: []gputypes.BindGroupEntry{
			bufferEntry(0, p.paramsBuf),
			bufferEntry(1, p.depthBuf),
			bufferEntry(2, p.outBuf),
		},
	})
	if err != nil {
		encoder.DiscardEncoding()
		return errors.Wrap(err, "create bind group")
	}
	res.bindGroups = append(res.bindGroups, bg)

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "depth_to_points"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(workgroupCount(p.pixelCount), 1, 1)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return errors.Wrap(err, "end encoding")
	}
	res.cmdBuf = cmdBuf

	fence, err := device.CreateFence()
	if err != nil {
		return errors.Wrap(err, "create fence")
	}
	res.fence = fence

	if err := p.backend.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return errors.Wrapf(compute.ErrDeviceLost, "submit: %s", err)
	}
	ok, err := device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return errors.Wrapf(compute.ErrDeviceLost, "wait for device: %s", err)
	}
	if !ok {
		return errors.Wrapf(compute.ErrDeviceLost, "device timeout after %v", fenceTimeout)
	}
	return nil
}

func bufferEntry(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: 0,
			Size:   0, // 0 = entire buffer
		},
	}
}

// mirror computes the kernel's output on the host, splitting the
// workgroups across a fixed number of goroutines.
func (p *program) mirror(depth []uint16, out []float32) {
	groups := int(workgroupCount(p.pixelCount))
	var wg sync.WaitGroup
	wg.Add(mirrorShards)
	for shard := 0; shard < mirrorShards; shard++ {
		shardCopy := shard
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for g := shardCopy; g < groups; g += mirrorShards {
				start := g * workgroupSize
				end := start + workgroupSize
				if end > p.pixelCount {
					end = p.pixelCount
				}
				for i := start; i < end; i++ {
					kernelPixel(p.params, uint32(i), uint32(depth[i]), out[4*i:4*i+4])
				}
			}
		})
	}
	wg.Wait()
}

// kernelPixel mirrors one invocation of the kernel entry point, in the
// same float32 arithmetic the device uses.
func kernelPixel(params compute.KernelParams, i, d uint32, out []float32) {
	z := float32(d) * params.DepthScale
	if d == params.InvalidDepth || (params.MaxDepth > 0 && z > params.MaxDepth) {
		out[0] = params.NaN
		out[1] = params.NaN
		out[2] = params.NaN
		out[3] = 0
		return
	}
	c := float32(i % params.Width)
	r := float32(i / params.Width)
	out[0] = (c - params.Cx) * z / params.Fx
	out[1] = (r - params.Cy) * z / params.Fy
	out[2] = z
	out[3] = 0
}

// Close releases the program's device resources.
func (p *program) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.destroyDeviceState()
	return nil
}

func (p *program) destroyDeviceState() {
	device := p.backend.device
	if p.outBuf != nil {
		device.DestroyBuffer(p.outBuf)
		p.outBuf = nil
	}
	if p.depthBuf != nil {
		device.DestroyBuffer(p.depthBuf)
		p.depthBuf = nil
	}
	if p.paramsBuf != nil {
		device.DestroyBuffer(p.paramsBuf)
		p.paramsBuf = nil
	}
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipelineLayout != nil {
		device.DestroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = nil
	}
	if p.bgLayout != nil {
		device.DestroyBindGroupLayout(p.bgLayout)
		p.bgLayout = nil
	}
	if p.module != nil {
		device.DestroyShaderModule(p.module)
		p.module = nil
	}
}
