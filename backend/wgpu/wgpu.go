package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	wgpuhal "github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/rend/backend"
	"github.com/gogpu/rend/hal"
)

func init() {
	backend.Register(backend.BackendWGPU, func() hal.Backend { return NewBackend() })
}

// PresentFunc receives the pixels of a presented frame: tightly packed
// rows in the swapchain format, bottom of the readback pipeline. The
// windowing collaborator blits them to the screen.
type PresentFunc func(pixels []byte, extent hal.Extent, format hal.Format)

// Backend opens devices through gogpu/wgpu's Vulkan HAL.
type Backend struct {
	mu       sync.Mutex
	instance wgpuhal.Instance
	adapters []wgpuhal.ExposedAdapter

	// external device handed over by a gpucontext provider, if any.
	extDevice wgpuhal.Device
	extQueue  wgpuhal.Queue

	present PresentFunc
}

// NewBackend returns an unopened backend. The wgpu instance is created
// lazily on first enumeration.
func NewBackend() *Backend { return &Backend{} }

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.BackendWGPU }

// SetPresenter registers the sink presented frames are delivered to.
// Without one, presented pixels are dropped (headless operation).
func (b *Backend) SetPresenter(fn PresentFunc) {
	b.mu.Lock()
	b.present = fn
	b.mu.Unlock()
}

// SetDeviceProvider switches the backend to a shared GPU device from an
// external provider (e.g. a gogpu application). The provider must also
// implement HalDevice() any and HalQueue() any returning the wgpu HAL
// types.
func (b *Backend) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(wgpuhal.Device)
	if !ok || dev == nil {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(wgpuhal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	b.mu.Lock()
	b.extDevice = dev
	b.extQueue = queue
	b.mu.Unlock()
	return nil
}

// ensureInstance creates the wgpu instance and enumerates adapters once.
func (b *Backend) ensureInstance() error {
	if b.instance != nil {
		return nil
	}
	wb, ok := wgpuhal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("wgpu: vulkan backend not available: %w", hal.ErrNoSuitableDevice)
	}
	instance, err := wb.CreateInstance(&wgpuhal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}
	b.instance = instance
	b.adapters = instance.EnumerateAdapters(nil)
	return nil
}

// Enumerate lists the available adapters. wgpu exposes one universal queue
// per device, reported as a single family with every capability.
func (b *Backend) Enumerate() ([]hal.AdapterInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureInstance(); err != nil {
		return nil, err
	}

	infos := make([]hal.AdapterInfo, len(b.adapters))
	for i := range b.adapters {
		infos[i] = adapterInfo(&b.adapters[i])
	}
	return infos, nil
}

func adapterInfo(a *wgpuhal.ExposedAdapter) hal.AdapterInfo {
	class := hal.DeviceOther
	switch a.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		class = hal.DeviceDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		class = hal.DeviceIntegrated
	}
	return hal.AdapterInfo{
		Name:  a.Info.Name,
		Class: class,
		Families: []hal.QueueFamily{{
			Index: 0,
			Caps:  hal.CapGraphics | hal.CapCompute | hal.CapTransfer | hal.CapPresent,
			Count: 1,
		}},
	}
}

// Open creates a logical device on the adapter at the given index. When an
// external device was installed via SetDeviceProvider it is wrapped
// instead, and the adapter index only selects the reported info.
func (b *Backend) Open(adapterIndex int) (hal.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureInstance(); err != nil {
		return nil, err
	}
	if adapterIndex < 0 || adapterIndex >= len(b.adapters) {
		return nil, fmt.Errorf("wgpu: adapter index %d out of range: %w",
			adapterIndex, hal.ErrNoSuitableDevice)
	}
	exposed := &b.adapters[adapterIndex]

	if b.extDevice != nil {
		return newDevice(adapterInfo(exposed), b.extDevice, b.extQueue, true, b), nil
	}

	openDev, err := exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("wgpu: open adapter %q: %w", exposed.Info.Name, err)
	}
	return newDevice(adapterInfo(exposed), openDev.Device, openDev.Queue, false, b), nil
}

// Destroy releases the instance. Devices must be destroyed first.
func (b *Backend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
		b.adapters = nil
	}
}
