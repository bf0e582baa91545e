// Package halmock provides a deterministic in-memory implementation of the
// hal interfaces for testing.
//
// The mock device completes GPU work on demand rather than in real time:
// in auto-complete mode (the default) a fence wait retires every pending
// submission up to and including the one that signals the awaited fence, so
// frame cycles run at full speed with exact completion ordering. In manual
// mode submissions retire only through CompleteNextSubmit, which lets tests
// hold frames in flight and observe back-pressure.
//
// Failure injection covers the conditions the engine must recover from or
// surface: acquire/present results, submit errors and whole-device loss.
package halmock

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rend/hal"
)

// DefaultImageCount is the number of images a mock swapchain holds.
const DefaultImageCount = 3

// Backend is a mock hal.Backend over a fixed adapter list.
type Backend struct {
	adapters []hal.AdapterInfo
	openErr  error
}

// NewBackend returns a backend exposing the given adapters. With no
// arguments it exposes a single default discrete adapter.
func NewBackend(adapters ...hal.AdapterInfo) *Backend {
	if len(adapters) == 0 {
		adapters = []hal.AdapterInfo{DefaultAdapter()}
	}
	return &Backend{adapters: adapters}
}

// DefaultAdapter returns a discrete adapter with a universal queue family,
// the shape most desktop GPUs present.
func DefaultAdapter() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:     "MockGPU",
		Class:    hal.DeviceDiscrete,
		HeapSize: 4 << 30,
		Families: []hal.QueueFamily{
			{Index: 0, Caps: hal.CapGraphics | hal.CapCompute | hal.CapTransfer | hal.CapPresent, Count: 4},
			{Index: 1, Caps: hal.CapTransfer, Count: 2},
		},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "mock" }

// Enumerate lists the configured adapters.
func (b *Backend) Enumerate() ([]hal.AdapterInfo, error) {
	return b.adapters, nil
}

// FailOpen makes every subsequent Open return err.
func (b *Backend) FailOpen(err error) { b.openErr = err }

// Open creates a mock device on the adapter at the given index.
func (b *Backend) Open(adapterIndex int) (hal.Device, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	if adapterIndex < 0 || adapterIndex >= len(b.adapters) {
		return nil, fmt.Errorf("halmock: adapter index %d out of range: %w", adapterIndex, hal.ErrNoSuitableDevice)
	}
	return NewDevice(b.adapters[adapterIndex]), nil
}

// Fence is a mock host-waitable fence.
type Fence struct {
	mu       sync.Mutex
	signaled bool
}

// Signaled reports whether the fence has fired since its last reset.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) set(v bool) {
	f.mu.Lock()
	f.signaled = v
	f.mu.Unlock()
}

// Semaphore is a mock device-side ordering primitive. Signal state is
// tracked so tests can assert submission wiring.
type Semaphore struct {
	mu       sync.Mutex
	signaled bool
}

func (s *Semaphore) set(v bool) {
	s.mu.Lock()
	s.signaled = v
	s.mu.Unlock()
}

// SignaledOnDevice reports the device-timeline signal state.
func (s *Semaphore) SignaledOnDevice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// memoryBlock is a mock DeviceMemory.
type memoryBlock struct {
	size   uint64
	mapped []byte
}

func (m *memoryBlock) Size() uint64   { return m.size }
func (m *memoryBlock) Mapped() []byte { return m.mapped }

// buffer is a mock hal.Buffer.
type buffer struct {
	size  uint64
	usage hal.BufferUsage
	label string
}

func (b *buffer) Size() uint64 { return b.size }

// image is a mock hal.Image.
type image struct {
	extent hal.Extent
	format hal.Format
	label  string
}

func (i *image) Extent() hal.Extent { return i.extent }
func (i *image) Format() hal.Format { return i.format }

// pipeline is a mock hal.Pipeline.
type pipeline struct {
	label string
}

// pendingSubmit is one queue submission awaiting completion.
type pendingSubmit struct {
	queue   hal.QueueKind
	fence   *Fence
	signals []*Semaphore
}

// Device is the mock hal.Device.
type Device struct {
	mu sync.Mutex

	info hal.AdapterInfo
	lost bool

	autoComplete bool
	pending      []pendingSubmit

	// Injection queues, consumed front to back.
	acquireErrs []error
	presentErrs []error
	submitErrs  []error

	// Live-object accounting for leak tests.
	liveMemory     int
	liveMemBytes   uint64
	liveBuffers    int
	liveImages     int
	livePipelines  int
	liveFences     int
	liveSemaphores int
	liveSwapchains int

	submitCount  int
	presentCount int
}

// NewDevice returns a mock device for the given adapter, in auto-complete
// mode.
func NewDevice(info hal.AdapterInfo) *Device {
	return &Device{info: info, autoComplete: true}
}

// SetAutoComplete toggles automatic retirement of pending submissions on
// fence waits. With auto-complete off, use CompleteNextSubmit.
func (d *Device) SetAutoComplete(v bool) {
	d.mu.Lock()
	d.autoComplete = v
	d.mu.Unlock()
}

// Lose puts the device into the lost state: every subsequent operation
// fails with hal.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// InjectAcquireError queues err to be returned by the next swapchain
// Acquire call.
func (d *Device) InjectAcquireError(err error) {
	d.mu.Lock()
	d.acquireErrs = append(d.acquireErrs, err)
	d.mu.Unlock()
}

// InjectPresentError queues err to be returned by the next Present call.
func (d *Device) InjectPresentError(err error) {
	d.mu.Lock()
	d.presentErrs = append(d.presentErrs, err)
	d.mu.Unlock()
}

// InjectSubmitError queues err to be returned by the next Submit call.
func (d *Device) InjectSubmitError(err error) {
	d.mu.Lock()
	d.submitErrs = append(d.submitErrs, err)
	d.mu.Unlock()
}

// CompleteNextSubmit retires the oldest pending submission, signaling its
// fence and semaphores. Returns false when nothing is pending.
func (d *Device) CompleteNextSubmit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completeOneLocked()
}

func (d *Device) completeOneLocked() bool {
	if len(d.pending) == 0 {
		return false
	}
	p := d.pending[0]
	d.pending = d.pending[1:]
	for _, s := range p.signals {
		s.set(true)
	}
	if p.fence != nil {
		p.fence.set(true)
	}
	return true
}

// PendingSubmits returns the number of submissions not yet retired.
func (d *Device) PendingSubmits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// SubmitCount returns the total number of Submit calls accepted.
func (d *Device) SubmitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitCount
}

// PresentCount returns the total number of Present calls accepted.
func (d *Device) PresentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presentCount
}

// LiveAllocations returns the number of memory blocks not yet freed.
func (d *Device) LiveAllocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveMemory
}

// LiveObjects returns counts of live buffers, images and pipelines.
func (d *Device) LiveObjects() (buffers, images, pipelines int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveBuffers, d.liveImages, d.livePipelines
}

func (d *Device) checkLost() error {
	if d.lost {
		return hal.ErrDeviceLost
	}
	return nil
}

// Info returns the adapter the device was opened on.
func (d *Device) Info() hal.AdapterInfo { return d.info }

// CreateFence returns a new fence, optionally pre-signaled.
func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	d.liveFences++
	return &Fence{signaled: signaled}, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(f hal.Fence) {
	d.mu.Lock()
	d.liveFences--
	d.mu.Unlock()
}

// WaitFence blocks until f signals or the timeout expires. In auto-complete
// mode pending submissions retire in FIFO order until f's submission has
// completed, modeling a GPU that finishes work by the time the CPU needs it.
func (d *Device) WaitFence(f hal.Fence, timeout time.Duration) error {
	mf, ok := f.(*Fence)
	if !ok {
		return fmt.Errorf("halmock: foreign fence %T", f)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	if mf.Signaled() {
		return nil
	}
	if d.autoComplete {
		for !mf.Signaled() {
			if !d.completeOneLocked() {
				break
			}
		}
	}
	if !mf.Signaled() {
		return hal.ErrTimeout
	}
	return nil
}

// ResetFence returns f to the unsignaled state.
func (d *Device) ResetFence(f hal.Fence) error {
	mf, ok := f.(*Fence)
	if !ok {
		return fmt.Errorf("halmock: foreign fence %T", f)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	mf.set(false)
	return nil
}

// CreateSemaphore returns a new semaphore.
func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	d.liveSemaphores++
	return &Semaphore{}, nil
}

// DestroySemaphore releases a semaphore.
func (d *Device) DestroySemaphore(s hal.Semaphore) {
	d.mu.Lock()
	d.liveSemaphores--
	d.mu.Unlock()
}

// AllocateMemory obtains a block, mapping it when host-visible.
func (d *Device) AllocateMemory(size, alignment uint64, locality hal.MemoryLocality) (hal.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	m := &memoryBlock{size: size}
	if locality == hal.LocalityHost {
		m.mapped = make([]byte, size)
	}
	d.liveMemory++
	d.liveMemBytes += size
	return m, nil
}

// FreeMemory returns a block to the pool.
func (d *Device) FreeMemory(m hal.DeviceMemory) error {
	mb, ok := m.(*memoryBlock)
	if !ok {
		return fmt.Errorf("halmock: foreign memory %T", m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.liveMemory--
	d.liveMemBytes -= mb.size
	return nil
}

// CreateBuffer binds a new buffer to pre-allocated memory.
func (d *Device) CreateBuffer(desc hal.BufferDescriptor) (hal.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc.Memory == nil {
		return nil, fmt.Errorf("halmock: buffer without memory: %w", hal.ErrInvalidUsage)
	}
	d.liveBuffers++
	return &buffer{size: desc.Size, usage: desc.Usage, label: desc.Label}, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(b hal.Buffer) {
	d.mu.Lock()
	d.liveBuffers--
	d.mu.Unlock()
}

// CreateImage binds a new image to pre-allocated memory.
func (d *Device) CreateImage(desc hal.ImageDescriptor) (hal.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc.Memory == nil {
		return nil, fmt.Errorf("halmock: image without memory: %w", hal.ErrInvalidUsage)
	}
	d.liveImages++
	return &image{extent: desc.Extent, format: desc.Format, label: desc.Label}, nil
}

// DestroyImage releases an image.
func (d *Device) DestroyImage(i hal.Image) {
	d.mu.Lock()
	d.liveImages--
	d.mu.Unlock()
}

// CreatePipeline compiles a mock pipeline.
func (d *Device) CreatePipeline(desc hal.PipelineDescriptor) (hal.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc.VertexSource == "" {
		return nil, fmt.Errorf("halmock: pipeline without vertex stage: %w", hal.ErrInvalidUsage)
	}
	d.livePipelines++
	return &pipeline{label: desc.Label}, nil
}

// DestroyPipeline releases a pipeline.
func (d *Device) DestroyPipeline(p hal.Pipeline) {
	d.mu.Lock()
	d.livePipelines--
	d.mu.Unlock()
}

// CreateCommandPool returns a command pool for the given queue family.
func (d *Device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &CommandPool{device: d, family: family}, nil
}

// Submit enqueues work. The submission stays pending until retired by a
// fence wait (auto-complete mode) or CompleteNextSubmit.
func (d *Device) Submit(queue hal.QueueKind, info hal.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	if len(d.submitErrs) > 0 {
		err := d.submitErrs[0]
		d.submitErrs = d.submitErrs[1:]
		if err != nil {
			return err
		}
	}
	p := pendingSubmit{queue: queue}
	if f, ok := info.Fence.(*Fence); ok {
		p.fence = f
	}
	for _, s := range info.SignalSemaphores {
		if ms, ok := s.(*Semaphore); ok {
			p.signals = append(p.signals, ms)
		}
	}
	d.pending = append(d.pending, p)
	d.submitCount++
	return nil
}

// QueueWaitIdle retires every pending submission on the queue.
func (d *Device) QueueWaitIdle(queue hal.QueueKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	remaining := d.pending[:0]
	for _, p := range d.pending {
		if p.queue != queue {
			remaining = append(remaining, p)
			continue
		}
		for _, s := range p.signals {
			s.set(true)
		}
		if p.fence != nil {
			p.fence.set(true)
		}
	}
	d.pending = remaining
	return nil
}

// CreateSwapchain builds a mock presentable image set. Each image gets a
// backing memory block so leak tests can watch LiveAllocations across
// rebuilds.
func (d *Device) CreateSwapchain(surface hal.Surface, extent hal.Extent, old hal.Swapchain) (hal.Swapchain, error) {
	if extent.IsZero() {
		return nil, fmt.Errorf("halmock: zero extent %s: %w", extent, hal.ErrSurfaceOutOfDate)
	}

	d.mu.Lock()
	if err := d.checkLost(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.liveSwapchains++
	d.mu.Unlock()

	sc := &Swapchain{
		device: d,
		extent: extent,
		format: hal.FormatBGRA8SRGB,
		images: make([]hal.DeviceMemory, DefaultImageCount),
	}
	for i := range sc.images {
		size := uint64(extent.Width) * uint64(extent.Height) * uint64(sc.format.BytesPerPixel())
		m, err := d.AllocateMemory(size, 256, hal.LocalityDevice)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.images[i] = m
	}
	return sc, nil
}

// Destroy releases the device.
func (d *Device) Destroy() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// Swapchain is the mock presentable image set.
type Swapchain struct {
	mu        sync.Mutex
	device    *Device
	extent    hal.Extent
	format    hal.Format
	images    []hal.DeviceMemory
	next      uint32
	destroyed bool
}

// Acquire returns the next image index round-robin, consuming any injected
// acquire error first. The signal semaphore fires immediately: a mock image
// is always ready.
func (s *Swapchain) Acquire(signal hal.Semaphore, timeout time.Duration) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0, hal.ErrSurfaceLost
	}

	s.device.mu.Lock()
	lost := s.device.lost
	var injected error
	if len(s.device.acquireErrs) > 0 {
		injected = s.device.acquireErrs[0]
		s.device.acquireErrs = s.device.acquireErrs[1:]
	}
	s.device.mu.Unlock()

	if lost {
		return 0, hal.ErrDeviceLost
	}
	if injected != nil {
		return 0, injected
	}

	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	if ms, ok := signal.(*Semaphore); ok {
		ms.set(true)
	}
	return idx, nil
}

// Present queues the image, consuming any injected present error.
func (s *Swapchain) Present(imageIndex uint32, wait hal.Semaphore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return hal.ErrSurfaceLost
	}
	if int(imageIndex) >= len(s.images) {
		return fmt.Errorf("halmock: present of image %d beyond chain of %d", imageIndex, len(s.images))
	}

	s.device.mu.Lock()
	lost := s.device.lost
	var injected error
	if len(s.device.presentErrs) > 0 {
		injected = s.device.presentErrs[0]
		s.device.presentErrs = s.device.presentErrs[1:]
	}
	if !lost {
		s.device.presentCount++
	}
	s.device.mu.Unlock()

	if lost {
		return hal.ErrDeviceLost
	}
	if ms, ok := wait.(*Semaphore); ok {
		ms.set(false)
	}
	return injected
}

// ImageCount returns the number of images in the chain.
func (s *Swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Extent returns the extent the chain was built against.
func (s *Swapchain) Extent() hal.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// Format returns the image format of the chain.
func (s *Swapchain) Format() hal.Format { return s.format }

// Destroy releases the image set and its backing memory.
func (s *Swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, m := range s.images {
		if m != nil {
			_ = s.device.FreeMemory(m)
		}
	}
	s.images = nil

	s.device.mu.Lock()
	s.device.liveSwapchains--
	s.device.mu.Unlock()
}

// CommandPool is the mock command pool.
type CommandPool struct {
	device *Device
	family uint32
}

// AllocateCommandBuffer returns a new resettable command buffer.
func (p *CommandPool) AllocateCommandBuffer() (hal.CommandBuffer, error) {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	if err := p.device.checkLost(); err != nil {
		return nil, err
	}
	return &CommandBuffer{}, nil
}

// Destroy releases the pool.
func (p *CommandPool) Destroy() {}

// CommandBuffer records command names for assertion in tests.
type CommandBuffer struct {
	mu    sync.Mutex
	open  bool
	ended bool

	// Ops are the recorded command names, in order.
	Ops []string
}

// Recorded returns a copy of the recorded command names.
func (c *CommandBuffer) Recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Ops))
	copy(out, c.Ops)
	return out
}

func (c *CommandBuffer) append(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("halmock: command %q outside Begin/End", op)
	}
	c.Ops = append(c.Ops, op)
	return nil
}

// Begin opens the buffer for recording.
func (c *CommandBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return fmt.Errorf("halmock: Begin on open command buffer")
	}
	if c.ended {
		return fmt.Errorf("halmock: Begin on ended command buffer without Reset")
	}
	c.open = true
	return nil
}

// BindPipeline records a pipeline bind.
func (c *CommandBuffer) BindPipeline(p hal.Pipeline) error { return c.append("bind_pipeline") }

// BindVertexBuffer records a vertex buffer bind.
func (c *CommandBuffer) BindVertexBuffer(b hal.Buffer) error { return c.append("bind_vertex") }

// BindUniformBuffer records a uniform bind.
func (c *CommandBuffer) BindUniformBuffer(b hal.Buffer, slot uint32) error {
	return c.append(fmt.Sprintf("bind_uniform:%d", slot))
}

// Draw records a draw.
func (c *CommandBuffer) Draw(vertexCount, instanceCount uint32) error {
	return c.append(fmt.Sprintf("draw:%d:%d", vertexCount, instanceCount))
}

// CopyBuffer records a buffer copy.
func (c *CommandBuffer) CopyBuffer(src, dst hal.Buffer, size uint64) error {
	return c.append(fmt.Sprintf("copy:%d", size))
}

// CopyBufferToImage records a buffer-to-image copy.
func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image) error {
	return c.append("copy_to_image")
}

// Barrier records a barrier.
func (c *CommandBuffer) Barrier() error { return c.append("barrier") }

// End closes recording.
func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("halmock: End on command buffer not recording")
	}
	c.open = false
	c.ended = true
	return nil
}

// Reset clears the buffer for reuse.
func (c *CommandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.ended = false
	c.Ops = c.Ops[:0]
	return nil
}
