// Package resource manages GPU resources behind generation-tagged handles.
//
// Handles are small value types that survive the resource they point to:
// looking one up after Destroy fails with hal.ErrStaleHandle instead of
// reaching whatever now occupies the slot. Destruction is deferred. A
// destroyed resource's handle dies immediately, but the backend objects are
// only released once the last frame that referenced them has completed on
// the GPU, via Collect.
package resource

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/rend/alloc"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/internal/noplog"
)

// Kind discriminates what a Handle refers to.
type Kind uint8

const (
	// KindInvalid is the kind of the zero Handle.
	KindInvalid Kind = iota

	// KindBuffer is a GPU buffer.
	KindBuffer

	// KindImage is a GPU image.
	KindImage

	// KindPipeline is a compiled pipeline.
	KindPipeline
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindPipeline:
		return "pipeline"
	default:
		return "invalid"
	}
}

// Handle is a generation-tagged reference to one resource. The zero Handle
// is invalid. Handles are cheap to copy and safe to hold after the resource
// is destroyed; any use then fails with hal.ErrStaleHandle.
type Handle struct {
	kind       Kind
	index      uint32
	generation uint32
}

// Kind returns what the handle refers to.
func (h Handle) Kind() Kind { return h.kind }

// IsZero reports whether the handle is the invalid zero value.
func (h Handle) IsZero() bool { return h.generation == 0 }

// String identifies the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%s(%d@%d)", h.kind, h.index, h.generation)
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Size is the buffer size in bytes. Must be non-zero.
	Size uint64

	// Usage are the usage classes. Must be non-empty.
	Usage hal.BufferUsage

	// Locality selects device-local or host-visible backing memory.
	Locality hal.MemoryLocality

	// Label is an optional debug name.
	Label string
}

// ImageDesc describes an image to create. Images are always device-local.
type ImageDesc struct {
	// Extent is the image size. Must be non-zero.
	Extent hal.Extent

	// Format is the pixel format.
	Format hal.Format

	// Usage are the usage classes. Must be non-empty.
	Usage hal.ImageUsage

	// Label is an optional debug name.
	Label string
}

type entry struct {
	kind       Kind
	generation uint32
	live       bool
	lastUsed   uint64

	buffer   hal.Buffer
	image    hal.Image
	pipeline hal.Pipeline
	memory   alloc.Allocation
	locality hal.MemoryLocality
	size     uint64
}

type pendingRelease struct {
	kind     Kind
	seq      uint64
	buffer   hal.Buffer
	image    hal.Image
	pipeline hal.Pipeline
	memory   alloc.Allocation
}

// Config configures a Manager.
type Config struct {
	// Device creates and destroys the backend objects. Required.
	Device hal.Device

	// Allocator supplies backing memory for buffers and images. Required.
	Allocator *alloc.Allocator

	// Logger receives lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

// Manager owns the handle arena and the deferred-release queue. It is safe
// for concurrent use.
type Manager struct {
	dev   hal.Device
	alloc *alloc.Allocator
	log   *slog.Logger

	mu      sync.Mutex
	entries []entry
	free    []uint32
	pending []pendingRelease
}

// New returns a manager over the given device and allocator.
func New(cfg Config) (*Manager, error) {
	if cfg.Device == nil || cfg.Allocator == nil {
		return nil, fmt.Errorf("resource: nil device or allocator: %w", hal.ErrInvalidUsage)
	}
	return &Manager{
		dev:   cfg.Device,
		alloc: cfg.Allocator,
		log:   noplog.Or(cfg.Logger),
	}, nil
}

// claim reserves a slot under m.mu and returns its index.
func (m *Manager) claim() uint32 {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		return idx
	}
	m.entries = append(m.entries, entry{})
	return uint32(len(m.entries) - 1)
}

func (m *Manager) commit(idx uint32, e entry) Handle {
	s := &m.entries[idx]
	generation := s.generation + 1
	e.generation = generation
	e.live = true
	*s = e
	return Handle{kind: e.kind, index: idx, generation: generation}
}

// CreateBuffer allocates memory and binds a buffer to it.
func (m *Manager) CreateBuffer(desc BufferDesc) (Handle, error) {
	if desc.Size == 0 {
		return Handle{}, fmt.Errorf("resource: zero-size buffer: %w", hal.ErrInvalidUsage)
	}
	if desc.Usage == 0 {
		return Handle{}, fmt.Errorf("resource: buffer without usage: %w", hal.ErrInvalidUsage)
	}

	mem, err := m.alloc.Allocate(desc.Size, 256, desc.Locality)
	if err != nil {
		return Handle{}, fmt.Errorf("resource: buffer memory: %w", err)
	}
	block, err := m.alloc.Memory(mem)
	if err != nil {
		return Handle{}, err
	}
	buf, err := m.dev.CreateBuffer(hal.BufferDescriptor{
		Size:   desc.Size,
		Usage:  desc.Usage,
		Memory: block,
		Label:  desc.Label,
	})
	if err != nil {
		_ = m.alloc.Free(mem)
		return Handle{}, fmt.Errorf("resource: create buffer: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.commit(m.claim(), entry{
		kind:     KindBuffer,
		buffer:   buf,
		memory:   mem,
		locality: desc.Locality,
		size:     desc.Size,
	})
	m.log.Debug("buffer created", "handle", h.String(), "size", desc.Size, "label", desc.Label)
	return h, nil
}

// CreateImage allocates device-local memory and binds an image to it.
func (m *Manager) CreateImage(desc ImageDesc) (Handle, error) {
	if desc.Extent.IsZero() {
		return Handle{}, fmt.Errorf("resource: zero-extent image: %w", hal.ErrInvalidUsage)
	}
	if desc.Usage == 0 {
		return Handle{}, fmt.Errorf("resource: image without usage: %w", hal.ErrInvalidUsage)
	}

	size := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(desc.Format.BytesPerPixel())
	mem, err := m.alloc.Allocate(size, 256, hal.LocalityDevice)
	if err != nil {
		return Handle{}, fmt.Errorf("resource: image memory: %w", err)
	}
	block, err := m.alloc.Memory(mem)
	if err != nil {
		return Handle{}, err
	}
	img, err := m.dev.CreateImage(hal.ImageDescriptor{
		Extent: desc.Extent,
		Format: desc.Format,
		Usage:  desc.Usage,
		Memory: block,
		Label:  desc.Label,
	})
	if err != nil {
		_ = m.alloc.Free(mem)
		return Handle{}, fmt.Errorf("resource: create image: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.commit(m.claim(), entry{
		kind:   KindImage,
		image:  img,
		memory: mem,
		size:   size,
	})
	m.log.Debug("image created", "handle", h.String(), "extent", desc.Extent.String(), "label", desc.Label)
	return h, nil
}

// CreatePipeline compiles a pipeline state object.
func (m *Manager) CreatePipeline(desc hal.PipelineDescriptor) (Handle, error) {
	if desc.VertexSource == "" {
		return Handle{}, fmt.Errorf("resource: pipeline without vertex stage: %w", hal.ErrInvalidUsage)
	}
	p, err := m.dev.CreatePipeline(desc)
	if err != nil {
		return Handle{}, fmt.Errorf("resource: create pipeline: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.commit(m.claim(), entry{kind: KindPipeline, pipeline: p})
	m.log.Debug("pipeline created", "handle", h.String(), "label", desc.Label)
	return h, nil
}

// lookup resolves h under m.mu.
func (m *Manager) lookup(h Handle, kind Kind) (*entry, error) {
	if h.IsZero() || int(h.index) >= len(m.entries) {
		return nil, fmt.Errorf("resource: %v: %w", h, hal.ErrStaleHandle)
	}
	e := &m.entries[h.index]
	if !e.live || e.generation != h.generation {
		return nil, fmt.Errorf("resource: %v: %w", h, hal.ErrStaleHandle)
	}
	if kind != KindInvalid && e.kind != kind {
		return nil, fmt.Errorf("resource: %v used as %s: %w", h, kind, hal.ErrInvalidUsage)
	}
	return e, nil
}

// Buffer returns the backend buffer behind h. O(1).
func (m *Manager) Buffer(h Handle) (hal.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(h, KindBuffer)
	if err != nil {
		return nil, err
	}
	return e.buffer, nil
}

// Image returns the backend image behind h. O(1).
func (m *Manager) Image(h Handle) (hal.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(h, KindImage)
	if err != nil {
		return nil, err
	}
	return e.image, nil
}

// Pipeline returns the backend pipeline behind h. O(1).
func (m *Manager) Pipeline(h Handle) (hal.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(h, KindPipeline)
	if err != nil {
		return nil, err
	}
	return e.pipeline, nil
}

// Alive reports whether h still refers to a live resource.
func (m *Manager) Alive(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.lookup(h, KindInvalid)
	return err == nil
}

// WriteBuffer copies data into a host-visible buffer at the given offset.
func (m *Manager) WriteBuffer(h Handle, offset uint64, data []byte) error {
	m.mu.Lock()
	e, err := m.lookup(h, KindBuffer)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if e.locality != hal.LocalityHost {
		m.mu.Unlock()
		return fmt.Errorf("resource: write to device-local buffer %v: %w", h, hal.ErrInvalidUsage)
	}
	if offset+uint64(len(data)) > e.size {
		m.mu.Unlock()
		return fmt.Errorf("resource: write of %d bytes at %d past size %d: %w",
			len(data), offset, e.size, hal.ErrInvalidUsage)
	}
	mem := e.memory
	m.mu.Unlock()

	block, err := m.alloc.Memory(mem)
	if err != nil {
		return err
	}
	copy(block.Mapped()[offset:], data)
	return nil
}

// MarkUsed records that h is referenced by the frame with the given
// sequence number, pushing its deferred-release point forward.
func (m *Manager) MarkUsed(h Handle, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(h, KindInvalid)
	if err != nil {
		return err
	}
	if seq > e.lastUsed {
		e.lastUsed = seq
	}
	return nil
}

// Destroy invalidates h immediately and queues the backend objects for
// release once the last frame that used them completes. A resource never
// used by any frame is released on the next Collect regardless of sequence.
func (m *Manager) Destroy(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(h, KindInvalid)
	if err != nil {
		return err
	}
	m.pending = append(m.pending, pendingRelease{
		kind:     e.kind,
		seq:      e.lastUsed,
		buffer:   e.buffer,
		image:    e.image,
		pipeline: e.pipeline,
		memory:   e.memory,
	})
	e.live = false
	e.buffer = nil
	e.image = nil
	e.pipeline = nil
	e.memory = alloc.Allocation{}
	m.free = append(m.free, h.index)
	return nil
}

// Collect releases every pending resource whose last-used frame sequence is
// at or below completedSeq. It is called once per frame with the newest
// sequence known complete on the GPU, amortizing release work across
// frames. Returns the number of resources released.
func (m *Manager) Collect(completedSeq uint64) int {
	m.mu.Lock()
	var ready []pendingRelease
	remaining := m.pending[:0]
	for _, p := range m.pending {
		if p.seq <= completedSeq {
			ready = append(ready, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	m.pending = remaining
	m.mu.Unlock()

	for _, p := range ready {
		m.release(p)
	}
	return len(ready)
}

func (m *Manager) release(p pendingRelease) {
	switch p.kind {
	case KindBuffer:
		m.dev.DestroyBuffer(p.buffer)
	case KindImage:
		m.dev.DestroyImage(p.image)
	case KindPipeline:
		m.dev.DestroyPipeline(p.pipeline)
	}
	if !p.memory.IsZero() {
		if err := m.alloc.Free(p.memory); err != nil {
			m.log.Warn("release of backing memory failed", "err", err)
		}
	}
}

// PendingReleases returns the number of resources awaiting Collect.
func (m *Manager) PendingReleases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Live returns the number of live resources.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.entries {
		if m.entries[i].live {
			n++
		}
	}
	return n
}

// Close destroys every live resource and drains the pending queue without
// regard to frame sequences. The caller must have drained the GPU first.
func (m *Manager) Close() {
	m.mu.Lock()
	var all []pendingRelease
	for i := range m.entries {
		e := &m.entries[i]
		if !e.live {
			continue
		}
		all = append(all, pendingRelease{
			kind: e.kind, buffer: e.buffer, image: e.image,
			pipeline: e.pipeline, memory: e.memory,
		})
		e.live = false
		e.buffer = nil
		e.image = nil
		e.pipeline = nil
		e.memory = alloc.Allocation{}
	}
	all = append(all, m.pending...)
	m.pending = nil
	m.mu.Unlock()

	if len(all) > 0 {
		m.log.Debug("releasing resources at close", "count", len(all))
	}
	for _, p := range all {
		m.release(p)
	}
}
