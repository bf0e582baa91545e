package hal

import "time"

// Fence is a host-waitable, single-signal synchronization primitive. It is
// created by a Device, waited on through Device.WaitFence and recycled with
// Device.ResetFence. Implementations are opaque to the engine.
type Fence interface {
	// Signaled reports whether the fence has fired since its last reset.
	Signaled() bool
}

// Semaphore is a device-side ordering primitive between queue operations.
// The host never waits on it; it only threads semaphores through SubmitInfo
// and Swapchain.Acquire/Present.
type Semaphore any

// DeviceMemory is one block handed out by the device's native allocator.
// Blocks are obtained through Device.AllocateMemory and returned with
// Device.FreeMemory; the alloc package wraps them with budget accounting
// and generation checking.
type DeviceMemory interface {
	// Size returns the usable size of the block in bytes.
	Size() uint64

	// Mapped returns the host mapping for host-visible memory, or nil for
	// device-local memory.
	Mapped() []byte
}

// Buffer is a GPU buffer bound to a DeviceMemory block.
type Buffer interface {
	// Size returns the buffer size in bytes.
	Size() uint64
}

// Image is a GPU image bound to a DeviceMemory block.
type Image interface {
	// Extent returns the image dimensions.
	Extent() Extent

	// Format returns the pixel format.
	Format() Format
}

// Pipeline is a compiled pipeline state object.
type Pipeline any

// BufferDescriptor describes a buffer to create. Memory must already be
// allocated; the device only binds the buffer to it.
type BufferDescriptor struct {
	// Size is the buffer size in bytes.
	Size uint64

	// Usage are the usage classes the buffer will serve.
	Usage BufferUsage

	// Memory is the backing block from Device.AllocateMemory.
	Memory DeviceMemory

	// Label is an optional debug name.
	Label string
}

// ImageDescriptor describes an image to create.
type ImageDescriptor struct {
	// Extent is the image size.
	Extent Extent

	// Format is the pixel format.
	Format Format

	// Usage are the usage classes the image will serve.
	Usage ImageUsage

	// Memory is the backing block from Device.AllocateMemory.
	Memory DeviceMemory

	// Label is an optional debug name.
	Label string
}

// VertexAttribute describes one attribute within a vertex layout.
type VertexAttribute struct {
	// Location is the shader binding location.
	Location uint32

	// Format is the attribute's data format.
	Format Format

	// Offset is the byte offset within one vertex.
	Offset uint32
}

// VertexLayout describes how a flat vertex byte buffer is laid out. It is
// produced by the scene/layout collaborator and consumed opaquely.
type VertexLayout struct {
	// Stride is the byte size of one vertex.
	Stride uint32

	// Attributes are the per-vertex attributes.
	Attributes []VertexAttribute
}

// BindingSlot describes one uniform or storage binding in a pipeline layout.
type BindingSlot struct {
	// Slot is the binding index.
	Slot uint32

	// Usage is the buffer usage class expected at the slot.
	Usage BufferUsage
}

// PipelineDescriptor describes a pipeline to compile. Shader source is WGSL;
// backends compile it as needed (the wgpu backend runs it through naga).
type PipelineDescriptor struct {
	// VertexSource is the vertex stage WGSL source.
	VertexSource string

	// FragmentSource is the fragment stage WGSL source.
	FragmentSource string

	// Vertex is the vertex buffer layout.
	Vertex VertexLayout

	// Bindings are the uniform/storage binding slots.
	Bindings []BindingSlot

	// ColorFormat is the render target format.
	ColorFormat Format

	// Label is an optional debug name.
	Label string
}

// CommandBuffer records an ordered sequence of GPU commands. It is owned by
// one frame slot, reset at the start of each cycle, and submitted through
// Device.Submit. Recording validity (handle liveness, session state) is
// enforced one level up by the record package; implementations only carry
// the commands.
type CommandBuffer interface {
	// Begin opens the buffer for recording.
	Begin() error

	// BindPipeline selects the pipeline for subsequent draws.
	BindPipeline(p Pipeline) error

	// BindVertexBuffer selects the vertex buffer for subsequent draws.
	BindVertexBuffer(b Buffer) error

	// BindUniformBuffer binds a uniform buffer at the given slot.
	BindUniformBuffer(b Buffer, slot uint32) error

	// Draw appends a draw of vertexCount vertices, instanceCount instances.
	Draw(vertexCount, instanceCount uint32) error

	// CopyBuffer appends a size-byte copy between buffers.
	CopyBuffer(src, dst Buffer, size uint64) error

	// CopyBufferToImage appends a copy of tightly packed pixels from src
	// into the whole of dst.
	CopyBufferToImage(src Buffer, dst Image) error

	// Barrier appends a full execution/memory barrier.
	Barrier() error

	// End closes recording. The buffer is then submittable until Reset.
	End() error

	// Reset returns the buffer to its initial recordable state.
	Reset() error
}

// CommandPool allocates command buffers for one queue family. Pools are not
// safe for concurrent use; multi-threaded recording requires one pool per
// recording thread.
type CommandPool interface {
	// AllocateCommandBuffer returns a new resettable command buffer.
	AllocateCommandBuffer() (CommandBuffer, error)

	// Destroy releases the pool and every buffer allocated from it. The
	// caller must drain the family's queues first.
	Destroy()
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	// Commands are the command buffers to execute, in order.
	Commands []CommandBuffer

	// WaitSemaphores must signal before execution begins.
	WaitSemaphores []Semaphore

	// SignalSemaphores signal when execution completes.
	SignalSemaphores []Semaphore

	// Fence, if non-nil, signals on the host when execution completes.
	Fence Fence
}

// Swapchain is the presentable image set of one surface.
type Swapchain interface {
	// Acquire blocks until an image is available or the timeout expires,
	// returning the image index. The signal semaphore fires on the device
	// timeline when the image is actually ready to render into.
	//
	// Returns ErrSurfaceOutOfDate when the surface has changed underneath
	// the swapchain, ErrSurfaceLost when the surface is gone, ErrTimeout
	// on expiry.
	Acquire(signal Semaphore, timeout time.Duration) (uint32, error)

	// Present queues the image for display after wait signals.
	// Returns ErrSurfaceOutOfDate or ErrSurfaceSuboptimal as soft rebuild
	// signals; the image was still queued where the backend permits it.
	Present(imageIndex uint32, wait Semaphore) error

	// ImageCount returns the number of images in the chain.
	ImageCount() int

	// Extent returns the extent the chain was built against.
	Extent() Extent

	// Format returns the image format of the chain.
	Format() Format

	// Destroy releases the image set. In-flight work on the images must be
	// drained first.
	Destroy()
}

// Device is a logical GPU device: the root object every other GPU resource
// is created from and destroyed before.
type Device interface {
	// Info returns the adapter the device was opened on.
	Info() AdapterInfo

	// CreateFence returns a new fence, optionally pre-signaled.
	CreateFence(signaled bool) (Fence, error)

	// DestroyFence releases a fence.
	DestroyFence(f Fence)

	// WaitFence blocks until f signals or the timeout expires. Returns
	// ErrTimeout on expiry and ErrDeviceLost when the device is gone.
	WaitFence(f Fence, timeout time.Duration) error

	// ResetFence returns f to the unsignaled state.
	ResetFence(f Fence) error

	// CreateSemaphore returns a new semaphore.
	CreateSemaphore() (Semaphore, error)

	// DestroySemaphore releases a semaphore.
	DestroySemaphore(s Semaphore)

	// AllocateMemory obtains a block from the native allocator.
	AllocateMemory(size, alignment uint64, locality MemoryLocality) (DeviceMemory, error)

	// FreeMemory returns a block to the native allocator.
	FreeMemory(m DeviceMemory) error

	// CreateBuffer binds a new buffer to pre-allocated memory.
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// DestroyBuffer releases a buffer (not its memory).
	DestroyBuffer(b Buffer)

	// CreateImage binds a new image to pre-allocated memory.
	CreateImage(desc ImageDescriptor) (Image, error)

	// DestroyImage releases an image (not its memory).
	DestroyImage(i Image)

	// CreatePipeline compiles a pipeline state object.
	CreatePipeline(desc PipelineDescriptor) (Pipeline, error)

	// DestroyPipeline releases a pipeline.
	DestroyPipeline(p Pipeline)

	// CreateCommandPool returns a command pool for the given queue family.
	CreateCommandPool(family uint32) (CommandPool, error)

	// Submit enqueues work on the queue of the given kind. Submission
	// order on one queue is FIFO.
	Submit(queue QueueKind, info SubmitInfo) error

	// QueueWaitIdle blocks until the queue of the given kind has drained.
	QueueWaitIdle(queue QueueKind) error

	// CreateSwapchain builds a presentable image set for the surface.
	// Passing the old swapchain lets the backend recycle resources during
	// a rebuild.
	CreateSwapchain(surface Surface, extent Extent, old Swapchain) (Swapchain, error)

	// Destroy releases the device. All dependent objects must already be
	// destroyed and all queues drained.
	Destroy()
}

// Backend enumerates adapters and opens devices. Implementations register
// themselves with the backend package.
type Backend interface {
	// Name returns the backend identifier (e.g. "wgpu", "mock").
	Name() string

	// Enumerate lists the available adapters.
	Enumerate() ([]AdapterInfo, error)

	// Open creates a logical device on the adapter at the given index
	// into the Enumerate result.
	Open(adapterIndex int) (Device, error)
}
