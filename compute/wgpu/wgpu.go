// Package wgpu runs projection kernels on a Vulkan device through the
// WebGPU HAL. Importing it registers the "wgpu" compute backend.
package wgpu

import (
	"time"

	"github.com/edaniels/golog"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/pkg/errors"

	"go.viam.com/depthcloud/compute"

	// register the vulkan HAL backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// BackendName is the name this backend registers under.
const BackendName = "wgpu"

// fenceTimeout is the maximum time to wait for device work to complete.
const fenceTimeout = 5 * time.Second

func init() {
	compute.Register(BackendName, func(logger golog.Logger) (compute.Backend, error) {
		return New(logger)
	})
}

// Backend is an open Vulkan device able to build projection programs.
type Backend struct {
	logger   golog.Logger
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits
}

// New opens the first usable Vulkan adapter, preferring discrete and
// integrated GPUs over software devices.
func New(logger golog.Logger) (*Backend, error) {
	if logger == nil {
		logger = golog.Global()
	}

	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.New("vulkan backend not available")
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, errors.Wrap(err, "open device")
	}

	b := &Backend{
		logger:   logger,
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		limits:   limits,
	}
	logger.Infow("opened compute device", "adapter", selected.Info.Name)
	return b, nil
}

// Name returns the registry name of this backend.
func (b *Backend) Name() string {
	return BackendName
}

// Limits reports what the open device can hold and dispatch.
func (b *Backend) Limits() compute.Limits {
	return compute.Limits{
		MaxBufferSize:              b.limits.MaxBufferSize,
		MaxInvocationsPerWorkgroup: b.limits.MaxComputeWorkgroupSizeX,
	}
}

// Close releases the device and instance. Programs built on this backend
// must be closed first.
func (b *Backend) Close() error {
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
	b.queue = nil
	return nil
}
