package hal

import "fmt"

// Extent is a surface or image size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero. A zero extent means the
// surface is minimized and cannot be rendered to.
func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// String returns a "WxH" form.
func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// QueueKind identifies a queue by capability rather than by family index.
// The device context resolves kinds to concrete family/queue pairs, falling
// back on the graphics queue when no dedicated family exists.
type QueueKind uint8

const (
	// QueueGraphics executes render passes and draws.
	QueueGraphics QueueKind = iota

	// QueueCompute executes compute dispatches.
	QueueCompute

	// QueueTransfer executes copies; may alias the graphics queue.
	QueueTransfer

	// QueuePresent presents swapchain images; may alias the graphics queue.
	QueuePresent

	numQueueKinds
)

// String returns the queue kind name.
func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	case QueuePresent:
		return "present"
	default:
		return fmt.Sprintf("QueueKind(%d)", uint8(k))
	}
}

// QueueKinds returns all queue kinds in resolution order.
func QueueKinds() []QueueKind {
	return []QueueKind{QueueGraphics, QueueCompute, QueueTransfer, QueuePresent}
}

// QueueCaps is a bitmask of capabilities a queue family advertises.
type QueueCaps uint8

const (
	// CapGraphics marks a family that accepts graphics commands.
	CapGraphics QueueCaps = 1 << iota

	// CapCompute marks a family that accepts compute dispatches.
	CapCompute

	// CapTransfer marks a family that accepts transfer commands.
	CapTransfer

	// CapPresent marks a family that can present to the target surface.
	CapPresent
)

// Has reports whether all capabilities in want are present.
func (c QueueCaps) Has(want QueueCaps) bool {
	return c&want == want
}

// QueueFamily describes one queue family of an adapter.
type QueueFamily struct {
	// Index is the family index on the adapter.
	Index uint32

	// Caps are the capabilities the family advertises.
	Caps QueueCaps

	// Count is the number of queues available in the family.
	Count uint32
}

// DeviceClass is the broad hardware category of an adapter, used by the
// selection heuristic.
type DeviceClass uint8

const (
	// DeviceOther is an unclassified adapter.
	DeviceOther DeviceClass = iota

	// DeviceIntegrated shares memory with the host.
	DeviceIntegrated

	// DeviceDiscrete has dedicated memory. Preferred by selection.
	DeviceDiscrete

	// DeviceVirtual is a virtualized adapter.
	DeviceVirtual

	// DeviceCPU is a software rasterizer.
	DeviceCPU
)

// String returns the device class name.
func (c DeviceClass) String() string {
	switch c {
	case DeviceDiscrete:
		return "discrete"
	case DeviceIntegrated:
		return "integrated"
	case DeviceVirtual:
		return "virtual"
	case DeviceCPU:
		return "cpu"
	default:
		return "other"
	}
}

// AdapterInfo describes one enumerated physical device.
type AdapterInfo struct {
	// Name is the adapter name as reported by the driver.
	Name string

	// Class is the hardware category.
	Class DeviceClass

	// HeapSize is the largest device-local memory heap in bytes.
	// Zero when the backend cannot report it.
	HeapSize uint64

	// Families are the adapter's queue families.
	Families []QueueFamily
}

// String returns a human-readable description of the adapter.
func (a AdapterInfo) String() string {
	return fmt.Sprintf("%s (%s, %d MB)", a.Name, a.Class, a.HeapSize/(1024*1024))
}

// Surface wraps the native presentable target handed over by the windowing
// collaborator. The handle is opaque to the engine; only backends interpret
// it.
type Surface struct {
	// Handle is the platform-specific surface handle.
	Handle uintptr
}

// MemoryLocality selects which side of the bus an allocation lives on.
type MemoryLocality uint8

const (
	// LocalityDevice is device-local memory, fastest for GPU access and
	// not host-mappable.
	LocalityDevice MemoryLocality = iota

	// LocalityHost is host-visible memory, mappable for CPU writes.
	LocalityHost
)

// String returns the locality name.
func (l MemoryLocality) String() string {
	switch l {
	case LocalityDevice:
		return "device"
	case LocalityHost:
		return "host"
	default:
		return fmt.Sprintf("MemoryLocality(%d)", uint8(l))
	}
}

// BufferUsage is a bitmask of buffer usage classes.
type BufferUsage uint32

const (
	// BufferUsageVertex marks a vertex buffer.
	BufferUsageVertex BufferUsage = 1 << iota

	// BufferUsageIndex marks an index buffer.
	BufferUsageIndex

	// BufferUsageUniform marks a uniform buffer.
	BufferUsageUniform

	// BufferUsageStorage marks a storage buffer.
	BufferUsageStorage

	// BufferUsageCopySrc allows the buffer as a copy source.
	BufferUsageCopySrc

	// BufferUsageCopyDst allows the buffer as a copy destination.
	BufferUsageCopyDst
)

// ImageUsage is a bitmask of image usage classes.
type ImageUsage uint32

const (
	// ImageUsageSampled allows sampling in shaders.
	ImageUsageSampled ImageUsage = 1 << iota

	// ImageUsageColorAttachment allows use as a render target.
	ImageUsageColorAttachment

	// ImageUsageDepthAttachment allows use as a depth/stencil target.
	ImageUsageDepthAttachment

	// ImageUsageCopySrc allows the image as a copy source.
	ImageUsageCopySrc

	// ImageUsageCopyDst allows the image as a copy destination.
	ImageUsageCopyDst
)

// Format is a pixel format for images and vertex attributes.
type Format uint8

const (
	// FormatRGBA8Unorm is 8-bit-per-channel RGBA.
	FormatRGBA8Unorm Format = iota

	// FormatBGRA8Unorm is 8-bit-per-channel BGRA, the common surface format.
	FormatBGRA8Unorm

	// FormatBGRA8SRGB is BGRA with sRGB encoding, preferred for presentation.
	FormatBGRA8SRGB

	// FormatR8Unorm is single-channel 8-bit.
	FormatR8Unorm

	// FormatDepth32Float is 32-bit float depth.
	FormatDepth32Float

	// FormatRG32Float is two 32-bit floats, used for vertex attributes.
	FormatRG32Float

	// FormatRGBA32Float is four 32-bit floats, used for vertex attributes.
	FormatRGBA32Float
)

// BytesPerPixel returns the per-pixel byte size of the format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatBGRA8SRGB, FormatDepth32Float:
		return 4
	case FormatRG32Float:
		return 8
	case FormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	case FormatBGRA8Unorm:
		return "BGRA8Unorm"
	case FormatBGRA8SRGB:
		return "BGRA8SRGB"
	case FormatR8Unorm:
		return "R8Unorm"
	case FormatDepth32Float:
		return "Depth32Float"
	case FormatRG32Float:
		return "RG32Float"
	case FormatRGBA32Float:
		return "RGBA32Float"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// PresentMode selects how presentation paces against the display.
type PresentMode uint8

const (
	// PresentModeFIFO is vsync; always available.
	PresentModeFIFO PresentMode = iota

	// PresentModeMailbox replaces the queued image; preferred when the
	// surface supports it.
	PresentModeMailbox

	// PresentModeImmediate presents without synchronization.
	PresentModeImmediate
)
