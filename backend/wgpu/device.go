package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	wgpuhal "github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rend/hal"
)

// Device adapts one wgpu HAL device and its universal queue.
type Device struct {
	info     hal.AdapterInfo
	dev      wgpuhal.Device
	queue    wgpuhal.Queue
	external bool
	owner    *Backend

	// The universal queue is not safe for concurrent submission.
	submitMu sync.Mutex

	mu     sync.Mutex
	lost   bool
	target *image
}

// renderTarget returns the swapchain image draws are directed at, set by
// the owning swapchain on acquire.
func (d *Device) renderTarget() *image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *Device) setRenderTarget(img *image) {
	d.mu.Lock()
	d.target = img
	d.mu.Unlock()
}

func newDevice(info hal.AdapterInfo, dev wgpuhal.Device, queue wgpuhal.Queue, external bool, owner *Backend) *Device {
	return &Device{info: info, dev: dev, queue: queue, external: external, owner: owner}
}

// presenter returns the backend's current PresentFunc, which may change
// between frames via SetPresenter.
func (d *Device) presenter() PresentFunc {
	if d.owner == nil {
		return nil
	}
	d.owner.mu.Lock()
	defer d.owner.mu.Unlock()
	return d.owner.present
}

// Info returns the adapter the device was opened on.
func (d *Device) Info() hal.AdapterInfo { return d.info }

func (d *Device) checkLost() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return hal.ErrDeviceLost
	}
	return nil
}

// fence adapts a wgpu timeline fence to binary semantics. Each reset arms
// the next timeline value; a submission carrying the fence signals the
// armed value.
type fence struct {
	f wgpuhal.Fence

	// signaledOn is installed by the owning device so Signaled can poll
	// without a device reference at every call site.
	signaledOn func(*fence) bool

	mu     sync.Mutex
	target uint64
}

func (f *fence) armed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// Signaled reports whether the armed timeline value has been reached.
func (f *fence) Signaled() bool {
	return f.signaledOn == nil || f.signaledOn(f)
}

// CreateFence returns a fence. A pre-signaled fence starts with target
// value zero, which every timeline fence satisfies from birth.
func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	wf, err := d.dev.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	f := &fence{f: wf}
	if !signaled {
		f.target = 1
	}
	f.signaledOn = func(f *fence) bool {
		ok, err := d.dev.Wait(f.f, f.armed(), 0)
		return err == nil && ok
	}
	return f, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(f hal.Fence) {
	if wf, ok := f.(*fence); ok {
		d.dev.DestroyFence(wf.f)
	}
}

// WaitFence blocks until the fence's armed value is reached or the timeout
// expires.
func (d *Device) WaitFence(f hal.Fence, timeout time.Duration) error {
	wf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("wgpu: foreign fence %T", f)
	}
	if err := d.checkLost(); err != nil {
		return err
	}
	done, err := d.dev.Wait(wf.f, wf.armed(), timeout)
	if err != nil {
		d.markLost()
		return fmt.Errorf("wgpu: fence wait: %w", hal.ErrDeviceLost)
	}
	if !done {
		return hal.ErrTimeout
	}
	return nil
}

// ResetFence arms the next timeline value.
func (d *Device) ResetFence(f hal.Fence) error {
	wf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("wgpu: foreign fence %T", f)
	}
	wf.mu.Lock()
	wf.target++
	wf.mu.Unlock()
	return nil
}

func (d *Device) markLost() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// semaphore is an inert token. The universal queue executes submissions in
// FIFO order, which already provides the ordering semaphores exist for;
// presentation waits on the CPU via the frame fence before readback.
type semaphore struct{}

// CreateSemaphore returns a new ordering token.
func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &semaphore{}, nil
}

// DestroySemaphore releases a semaphore.
func (d *Device) DestroySemaphore(s hal.Semaphore) {}

// memoryBlock is an accounting record. wgpu's driver owns the real
// allocation inside buffer and texture creation; host-visible blocks carry
// the CPU staging mirror flushed before submission.
type memoryBlock struct {
	size     uint64
	locality hal.MemoryLocality
	mapped   []byte
}

func (m *memoryBlock) Size() uint64   { return m.size }
func (m *memoryBlock) Mapped() []byte { return m.mapped }

// AllocateMemory reserves an accounting block.
func (d *Device) AllocateMemory(size, alignment uint64, locality hal.MemoryLocality) (hal.DeviceMemory, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	m := &memoryBlock{size: size, locality: locality}
	if locality == hal.LocalityHost {
		m.mapped = make([]byte, size)
	}
	return m, nil
}

// FreeMemory releases an accounting block.
func (d *Device) FreeMemory(m hal.DeviceMemory) error {
	mb, ok := m.(*memoryBlock)
	if !ok {
		return fmt.Errorf("wgpu: foreign memory %T", m)
	}
	mb.mapped = nil
	return nil
}

// buffer wraps a wgpu buffer together with its backing block. Host-visible
// buffers keep the CPU mirror; dirty mirrors are flushed via
// Queue.WriteBuffer when a command buffer referencing them is submitted.
type buffer struct {
	buf   wgpuhal.Buffer
	size  uint64
	block *memoryBlock

	mu    sync.Mutex
	dirty bool
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) markDirty() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

func (b *buffer) takeDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.dirty
	b.dirty = false
	return was
}

// CreateBuffer creates a wgpu buffer for the descriptor. Host-visible
// buffers additionally get CopyDst usage so the mirror can be flushed.
func (d *Device) CreateBuffer(desc hal.BufferDescriptor) (hal.Buffer, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	block, ok := desc.Memory.(*memoryBlock)
	if !ok || block == nil {
		return nil, fmt.Errorf("wgpu: buffer without backing block: %w", hal.ErrInvalidUsage)
	}

	usage := bufferUsage(desc.Usage)
	if block.locality == hal.LocalityHost {
		usage |= gputypes.BufferUsageCopyDst
	}
	wb, err := d.dev.CreateBuffer(&wgpuhal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, mapCreateErr(err))
	}
	b := &buffer{buf: wb, size: desc.Size, block: block}
	if block.locality == hal.LocalityHost {
		// Mirror contents may already be written by the caller.
		b.dirty = true
	}
	return b, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(b hal.Buffer) {
	if wb, ok := b.(*buffer); ok {
		d.dev.DestroyBuffer(wb.buf)
	}
}

// image wraps a wgpu texture and its render/sample view.
type image struct {
	tex    wgpuhal.Texture
	view   wgpuhal.TextureView
	extent hal.Extent
	format hal.Format
}

func (i *image) Extent() hal.Extent { return i.extent }
func (i *image) Format() hal.Format { return i.format }

// CreateImage creates a texture and a default view over it.
func (d *Device) CreateImage(desc hal.ImageDescriptor) (hal.Image, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if _, ok := desc.Memory.(*memoryBlock); !ok {
		return nil, fmt.Errorf("wgpu: image without backing block: %w", hal.ErrInvalidUsage)
	}

	tex, err := d.dev.CreateTexture(&wgpuhal.TextureDescriptor{
		Label: desc.Label,
		Size: wgpuhal.Extent3D{
			Width:              desc.Extent.Width,
			Height:             desc.Extent.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, mapCreateErr(err))
	}
	view, err := d.dev.CreateTextureView(tex, &wgpuhal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return nil, fmt.Errorf("wgpu: create texture view %q: %w", desc.Label, err)
	}
	return &image{tex: tex, view: view, extent: desc.Extent, format: desc.Format}, nil
}

// DestroyImage releases a texture and its view.
func (d *Device) DestroyImage(i hal.Image) {
	if wi, ok := i.(*image); ok {
		d.dev.DestroyTextureView(wi.view)
		d.dev.DestroyTexture(wi.tex)
	}
}

// CreateCommandPool returns a pool for the universal queue family.
func (d *Device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &commandPool{dev: d}, nil
}

// Submit encodes and submits the command buffers in order, flushing dirty
// host mirrors first. The fence, if present, signals its armed value.
func (d *Device) Submit(queue hal.QueueKind, info hal.SubmitInfo) error {
	if err := d.checkLost(); err != nil {
		return err
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	var cmds []wgpuhal.CommandBuffer
	for _, c := range info.Commands {
		cb, ok := c.(*commandBuffer)
		if !ok {
			return fmt.Errorf("wgpu: foreign command buffer %T", c)
		}
		for _, b := range cb.touched {
			if b.block.locality == hal.LocalityHost && b.takeDirty() {
				d.queue.WriteBuffer(b.buf, 0, b.block.mapped)
			}
		}
		encoded, err := cb.encode(d)
		if err != nil {
			return err
		}
		cmds = append(cmds, encoded)
	}

	var wf wgpuhal.Fence
	var value uint64
	if f, ok := info.Fence.(*fence); ok && f != nil {
		wf = f.f
		value = f.armed()
	}
	if err := d.queue.Submit(cmds, wf, value); err != nil {
		d.markLost()
		return fmt.Errorf("wgpu: submit: %w", hal.ErrDeviceLost)
	}
	return nil
}

// QueueWaitIdle drains the universal queue by waiting on a marker fence
// submitted behind everything else.
func (d *Device) QueueWaitIdle(queue hal.QueueKind) error {
	if err := d.checkLost(); err != nil {
		return err
	}
	f, err := d.CreateFence(false)
	if err != nil {
		return err
	}
	defer d.DestroyFence(f)
	if err := d.Submit(queue, hal.SubmitInfo{Fence: f}); err != nil {
		return err
	}
	return d.WaitFence(f, 10*time.Second)
}

// Destroy releases the device unless it is externally owned.
func (d *Device) Destroy() {
	d.markLost()
	if !d.external && d.dev != nil {
		d.dev.Destroy()
	}
}

// mapCreateErr folds driver allocation failures into the engine's resource
// error class.
func mapCreateErr(err error) error {
	return fmt.Errorf("%v: %w", err, hal.ErrOutOfDeviceMemory)
}
