package rend

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/rend/alloc"
	"github.com/gogpu/rend/backend"
	"github.com/gogpu/rend/device"
	"github.com/gogpu/rend/frame"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/record"
	"github.com/gogpu/rend/resource"
	"github.com/gogpu/rend/swapchain"
)

// ErrEngineDown reports that a fatal error latched the engine. The latched
// cause is wrapped alongside it; use errors.Is/As to inspect both.
var ErrEngineDown = errors.New("rend: engine down")

// Config tunes engine construction. The zero value selects the default
// backend, two frames in flight and the adapter's reported memory budget.
type Config struct {
	// Backend names a registered backend. Empty means the best available.
	Backend string

	// MaxFramesInFlight is the frame ring size, clamped to
	// [1, frame.MaxFramesInFlight]. Zero means frame.DefaultFramesInFlight.
	MaxFramesInFlight int

	// MemoryBudgetMB caps device-local memory in megabytes. Zero means the
	// adapter's reported heap size.
	MemoryBudgetMB uint64

	// SlotWaitTimeout bounds the wait for a frame slot before the device is
	// declared wedged. Zero means frame.DefaultSlotWaitTimeout.
	SlotWaitTimeout time.Duration

	// Logger overrides the package logger for this engine.
	Logger *slog.Logger
}

// Engine is the rendering core facade. All methods except NotifyResize
// must be called from the render goroutine.
type Engine struct {
	log       *slog.Logger
	ctx       *device.Context
	allocator *alloc.Allocator
	resources *resource.Manager
	chain     *swapchain.Manager
	sched     *frame.Scheduler

	mu      sync.Mutex
	downErr error
	closed  bool
	uploads []pendingUpload
}

// pendingUpload is a staged texture upload recorded into the next frame.
type pendingUpload struct {
	staging resource.Handle
	img     resource.Handle
}

// Initialize opens the best adapter on the selected backend and wires the
// full stack: device context, allocator, resource manager, swapchain and
// frame scheduler.
func Initialize(surface hal.Surface, extent hal.Extent, cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	var b hal.Backend
	if cfg.Backend != "" {
		b = backend.Get(cfg.Backend)
	} else {
		b = backend.Default()
	}
	if b == nil {
		return nil, fmt.Errorf("rend: backend %q: %w", cfg.Backend, backend.ErrBackendNotAvailable)
	}

	ctx, err := device.New(device.Config{
		Backend: b,
		Surface: surface,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("rend: open device: %w", err)
	}

	allocator, err := alloc.New(alloc.Config{
		Device:       ctx.Device(),
		DeviceBudget: cfg.MemoryBudgetMB * 1024 * 1024,
		Logger:       log,
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("rend: allocator: %w", err)
	}

	resources, err := resource.New(resource.Config{
		Device:    ctx.Device(),
		Allocator: allocator,
		Logger:    log,
	})
	if err != nil {
		allocator.Close()
		ctx.Close()
		return nil, fmt.Errorf("rend: resources: %w", err)
	}

	chain, err := swapchain.New(swapchain.Config{
		Context: ctx,
		Extent:  extent,
		Logger:  log,
	})
	if err != nil {
		resources.Close()
		allocator.Close()
		ctx.Close()
		return nil, fmt.Errorf("rend: swapchain: %w", err)
	}

	sched, err := frame.New(frame.Config{
		Context:         ctx,
		Swapchain:       chain,
		Resources:       resources,
		FramesInFlight:  cfg.MaxFramesInFlight,
		SlotWaitTimeout: cfg.SlotWaitTimeout,
		Logger:          log,
	})
	if err != nil {
		chain.Destroy()
		resources.Close()
		allocator.Close()
		ctx.Close()
		return nil, fmt.Errorf("rend: scheduler: %w", err)
	}

	log.Info("engine initialized",
		"adapter", ctx.Info().Name,
		"class", ctx.Info().Class.String(),
		"extent", extent.String())

	return &Engine{
		log:       log,
		ctx:       ctx,
		allocator: allocator,
		resources: resources,
		chain:     chain,
		sched:     sched,
	}, nil
}

// Resources exposes the resource manager for direct handle management.
func (e *Engine) Resources() *resource.Manager { return e.resources }

// Stats returns the allocator's current accounting snapshot.
func (e *Engine) Stats() alloc.Stats { return e.allocator.Stats() }

// guard returns the latched failure, if any.
func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.downErr != nil {
		return fmt.Errorf("%w: %w", ErrEngineDown, e.downErr)
	}
	if e.closed {
		return fmt.Errorf("%w: engine shut down", ErrEngineDown)
	}
	return nil
}

// latch records a fatal cause; every later call fails with ErrEngineDown.
func (e *Engine) latch(err error) {
	e.mu.Lock()
	if e.downErr == nil {
		e.downErr = err
		e.log.Error("engine down", "error", err)
	}
	e.mu.Unlock()
}

// CreateVertexBuffer creates a host-visible vertex buffer holding data.
// The layout travels with the pipeline, not the buffer; it is accepted
// here so callers produce buffer and layout together.
func (e *Engine) CreateVertexBuffer(data []byte, layout hal.VertexLayout) (resource.Handle, error) {
	if err := e.guard(); err != nil {
		return resource.Handle{}, err
	}
	if len(data) == 0 || layout.Stride == 0 || uint32(len(data))%layout.Stride != 0 {
		return resource.Handle{}, fmt.Errorf("rend: vertex data %d bytes does not fit stride %d: %w",
			len(data), layout.Stride, hal.ErrInvalidUsage)
	}
	h, err := e.resources.CreateBuffer(resource.BufferDesc{
		Size:     uint64(len(data)),
		Usage:    hal.BufferUsageVertex | hal.BufferUsageCopySrc,
		Locality: hal.LocalityHost,
		Label:    "vertex",
	})
	if err != nil {
		return resource.Handle{}, e.classify(err)
	}
	if err := e.resources.WriteBuffer(h, 0, data); err != nil {
		e.resources.Destroy(h)
		return resource.Handle{}, err
	}
	return h, nil
}

// CreateUniformBuffer creates a host-visible uniform buffer of the given
// size. Update it with WriteUniform between frames.
func (e *Engine) CreateUniformBuffer(size uint64) (resource.Handle, error) {
	if err := e.guard(); err != nil {
		return resource.Handle{}, err
	}
	h, err := e.resources.CreateBuffer(resource.BufferDesc{
		Size:     size,
		Usage:    hal.BufferUsageUniform,
		Locality: hal.LocalityHost,
		Label:    "uniform",
	})
	if err != nil {
		return resource.Handle{}, e.classify(err)
	}
	return h, nil
}

// WriteUniform overwrites uniform buffer contents starting at offset.
func (e *Engine) WriteUniform(h resource.Handle, offset uint64, data []byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.resources.WriteBuffer(h, offset, data)
}

// CreatePipeline compiles a pipeline from WGSL sources.
func (e *Engine) CreatePipeline(desc hal.PipelineDescriptor) (resource.Handle, error) {
	if err := e.guard(); err != nil {
		return resource.Handle{}, err
	}
	h, err := e.resources.CreatePipeline(desc)
	if err != nil {
		return resource.Handle{}, e.classify(err)
	}
	return h, nil
}

// CreateTexture creates a device-local image and stages src for upload.
// The pixel copy is recorded into the next RenderFrame; the image must not
// be sampled before that frame completes.
func (e *Engine) CreateTexture(src image.Image, format hal.Format) (resource.Handle, error) {
	if err := e.guard(); err != nil {
		return resource.Handle{}, err
	}
	bounds := src.Bounds()
	h, err := e.resources.CreateImage(resource.ImageDesc{
		Extent: hal.Extent{Width: uint32(bounds.Dx()), Height: uint32(bounds.Dy())},
		Format: format,
		Usage:  hal.ImageUsageSampled | hal.ImageUsageCopyDst,
		Label:  "texture",
	})
	if err != nil {
		return resource.Handle{}, e.classify(err)
	}
	staging, err := e.resources.UploadImage(h, src)
	if err != nil {
		e.resources.Destroy(h)
		return resource.Handle{}, err
	}
	e.mu.Lock()
	e.uploads = append(e.uploads, pendingUpload{staging: staging, img: h})
	e.mu.Unlock()
	return h, nil
}

// DestroyResource invalidates a handle; the backing objects are released
// once every frame that used them completes.
func (e *Engine) DestroyResource(h resource.Handle) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.resources.Destroy(h)
}

// RenderFrame runs one frame cycle: pending texture uploads first, then
// the draw list in order. Transient surface conditions are absorbed (the
// frame is simply skipped); resource errors are returned; fatal errors
// latch the engine.
func (e *Engine) RenderFrame(dl *DrawList) error {
	if err := e.guard(); err != nil {
		return err
	}

	e.mu.Lock()
	uploads := e.uploads
	e.uploads = nil
	e.mu.Unlock()

	err := e.sched.Cycle(func(s *record.Session, imageIndex uint32) error {
		for _, up := range uploads {
			if err := s.CopyBufferToImage(up.staging, up.img); err != nil {
				return err
			}
		}
		if len(uploads) > 0 {
			if err := s.Barrier(); err != nil {
				return err
			}
		}
		if dl != nil {
			for i := range dl.draws {
				d := &dl.draws[i]
				if err := s.BindPipeline(d.Pipeline); err != nil {
					return err
				}
				if err := s.BindVertexBuffer(d.Vertices); err != nil {
					return err
				}
				for _, u := range d.Uniforms {
					if err := s.BindUniformBuffer(u.Buffer, u.Slot); err != nil {
						return err
					}
				}
				if err := s.Draw(d.VertexCount, d.InstanceCount); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err != nil {
		// The frame never submitted, so the copies were not recorded.
		// Put the uploads back for the next frame; the staging buffers
		// stay alive until a frame actually carries them.
		e.mu.Lock()
		e.uploads = append(uploads, e.uploads...)
		e.mu.Unlock()
		if hal.IsTransient(err) {
			e.log.Debug("frame skipped", "error", err)
			return nil
		}
		return e.classify(err)
	}

	// Staging buffers are one-shot; the deferred release queue holds them
	// until the frame that copied from them completes.
	for _, up := range uploads {
		if derr := e.resources.Destroy(up.staging); derr != nil {
			e.log.Warn("staging release failed", "error", derr)
		}
	}
	return nil
}

// classify latches fatal errors and passes everything else through.
func (e *Engine) classify(err error) error {
	if hal.IsFatal(err) {
		e.latch(err)
		return fmt.Errorf("%w: %w", ErrEngineDown, err)
	}
	return err
}

// NotifyResize records a new surface extent. Safe to call from the window
// event goroutine; the swapchain rebuilds on the next frame.
func (e *Engine) NotifyResize(extent hal.Extent) {
	e.chain.NotifyResize(extent)
}

// Shutdown drains the device and releases everything. Idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.sched.Destroy()
	e.resources.Close()
	e.chain.Destroy()
	e.allocator.Close()
	e.ctx.Close()
	e.log.Info("engine shut down")
}
