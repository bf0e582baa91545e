// Package frame runs the frames-in-flight loop.
//
// The scheduler owns a fixed ring of slots, one per frame that may be in
// flight on the GPU at once. Each slot carries its own command buffer, an
// image-available and a render-finished semaphore, and a fence that signals
// when the slot's last submission completes. A monotonically increasing
// frame sequence number selects the slot (sequence mod ring size) and keys
// deferred resource release.
//
// One frame moves through six steps: wait for the slot's previous frame,
// collect resources freed by completed frames, acquire a swapchain image,
// record, submit, present. Every wait is bounded; a slot fence that does
// not signal within the configured timeout is treated as a lost device.
//
// A failed acquire never consumes a sequence number, so skipped frames
// (minimized window, surface churn) leave the resource retirement order
// intact.
package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/rend/device"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/internal/noplog"
	"github.com/gogpu/rend/record"
	"github.com/gogpu/rend/resource"
	"github.com/gogpu/rend/swapchain"
)

const (
	// DefaultFramesInFlight is the ring size when none is configured.
	// Two slots overlap CPU recording of frame N+1 with GPU execution of
	// frame N without the latency cost of deeper pipelining.
	DefaultFramesInFlight = 2

	// MaxFramesInFlight caps the configurable ring size.
	MaxFramesInFlight = 8

	// DefaultSlotWaitTimeout bounds the wait for a slot's previous frame.
	// A healthy GPU retires a frame in milliseconds; five seconds of
	// silence means the device is gone.
	DefaultSlotWaitTimeout = 5 * time.Second

	// DefaultAcquireTimeout bounds a single swapchain image acquire.
	DefaultAcquireTimeout = time.Second
)

// RecordFunc records one frame's commands. The image index identifies the
// swapchain image the frame renders into.
type RecordFunc func(s *record.Session, imageIndex uint32) error

// Config configures a Scheduler.
type Config struct {
	// Context is the device context work is submitted through. Required.
	Context *device.Context

	// Swapchain supplies the images frames render into. Required.
	Swapchain *swapchain.Manager

	// Resources receives per-frame Collect calls for deferred release.
	// Required.
	Resources *resource.Manager

	// FramesInFlight is the ring size. Zero means DefaultFramesInFlight;
	// values are clamped to [1, MaxFramesInFlight].
	FramesInFlight int

	// SlotWaitTimeout bounds the wait for a slot's previous frame. Zero
	// means DefaultSlotWaitTimeout.
	SlotWaitTimeout time.Duration

	// AcquireTimeout bounds each image acquire. Zero means
	// DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	// Logger receives frame loop events. Nil disables logging.
	Logger *slog.Logger
}

type slot struct {
	imageAvailable hal.Semaphore
	renderFinished hal.Semaphore
	fence          hal.Fence
	commands       hal.CommandBuffer

	// pendingSeq is the sequence of the frame in flight on this slot,
	// zero when idle.
	pendingSeq uint64
}

// Scheduler drives the frame loop. Cycle must be called from a single
// render goroutine.
type Scheduler struct {
	ctx   *device.Context
	chain *swapchain.Manager
	res   *resource.Manager
	log   *slog.Logger

	slotWait time.Duration
	acquire  time.Duration

	mu        sync.Mutex
	cycling   bool
	slots     []slot
	seq       uint64
	completed uint64
	destroyed bool
}

// New builds the slot ring: per slot one command buffer from the graphics
// pool, two semaphores and a fence created signaled so the first wait on an
// idle slot passes immediately.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Context == nil || cfg.Swapchain == nil || cfg.Resources == nil {
		return nil, fmt.Errorf("frame: nil context, swapchain or resources: %w", hal.ErrInvalidUsage)
	}

	k := cfg.FramesInFlight
	if k == 0 {
		k = DefaultFramesInFlight
	}
	if k < 1 {
		k = 1
	}
	if k > MaxFramesInFlight {
		k = MaxFramesInFlight
	}
	slotWait := cfg.SlotWaitTimeout
	if slotWait == 0 {
		slotWait = DefaultSlotWaitTimeout
	}
	acquire := cfg.AcquireTimeout
	if acquire == 0 {
		acquire = DefaultAcquireTimeout
	}

	s := &Scheduler{
		ctx:      cfg.Context,
		chain:    cfg.Swapchain,
		res:      cfg.Resources,
		log:      noplog.Or(cfg.Logger),
		slotWait: slotWait,
		acquire:  acquire,
		slots:    make([]slot, k),
	}
	dev := cfg.Context.Device()
	pool := cfg.Context.Pool(hal.QueueGraphics)
	for i := range s.slots {
		sl := &s.slots[i]
		var err error
		if sl.imageAvailable, err = dev.CreateSemaphore(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("frame: slot %d semaphore: %w", i, err)
		}
		if sl.renderFinished, err = dev.CreateSemaphore(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("frame: slot %d semaphore: %w", i, err)
		}
		if sl.fence, err = dev.CreateFence(true); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("frame: slot %d fence: %w", i, err)
		}
		if sl.commands, err = pool.AllocateCommandBuffer(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("frame: slot %d command buffer: %w", i, err)
		}
	}
	s.log.Info("frame scheduler ready", "framesInFlight", k, "slotWaitTimeout", slotWait)
	return s, nil
}

// FramesInFlight returns the ring size.
func (s *Scheduler) FramesInFlight() int { return len(s.slots) }

// Sequence returns the sequence number of the last submitted frame.
func (s *Scheduler) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Completed returns the highest sequence known complete on the GPU.
func (s *Scheduler) Completed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// InFlight returns the number of slots with work pending on the GPU.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.slots {
		if s.slots[i].pendingSeq != 0 {
			n++
		}
	}
	return n
}

// Cycle runs one frame: wait on the slot, collect retired resources,
// acquire, record via fn, submit, present. The frame's sequence number is
// consumed only once the acquire has succeeded, so a skipped frame does not
// advance retirement.
//
// Cycle is not reentrant; calling it concurrently panics.
func (s *Scheduler) Cycle(fn RecordFunc) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return fmt.Errorf("frame: cycle on destroyed scheduler: %w", hal.ErrInvalidUsage)
	}
	if s.cycling {
		s.mu.Unlock()
		panic("frame: Cycle called concurrently")
	}
	s.cycling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cycling = false
		s.mu.Unlock()
	}()

	seq := s.seq + 1
	sl := &s.slots[(seq-1)%uint64(len(s.slots))]

	// Step 1: the slot's previous frame must be off the GPU before its
	// command buffer and semaphores can be reused.
	if err := s.waitSlot(sl); err != nil {
		return err
	}

	// Step 2: retire resources whose last-using frame has completed.
	s.res.Collect(s.completed)

	// Step 3: acquire. Failure returns before the sequence is consumed.
	imageIndex, err := s.chain.Acquire(sl.imageAvailable, s.acquire)
	if err != nil {
		return err
	}

	// Step 4: record. The fence stays signaled until the frame is
	// actually submitted, so an aborted recording leaves the slot idle.
	if err := sl.commands.Reset(); err != nil {
		return fmt.Errorf("frame: reset commands: %w", err)
	}
	session, err := record.Begin(sl.commands, s.res, seq)
	if err != nil {
		return err
	}
	if err := fn(session, imageIndex); err != nil {
		_ = session.End()
		return fmt.Errorf("frame %d: record: %w", seq, err)
	}
	if err := session.End(); err != nil {
		return fmt.Errorf("frame %d: %w", seq, err)
	}

	// Step 5: submit. Only now is the fence rearmed and the sequence
	// consumed.
	if err := s.ctx.Device().ResetFence(sl.fence); err != nil {
		return fmt.Errorf("frame %d: rearm fence: %w", seq, err)
	}
	err = s.ctx.Submit(hal.QueueGraphics, hal.SubmitInfo{
		Commands:         []hal.CommandBuffer{sl.commands},
		WaitSemaphores:   []hal.Semaphore{sl.imageAvailable},
		SignalSemaphores: []hal.Semaphore{sl.renderFinished},
		Fence:            sl.fence,
	})
	if err != nil {
		return fmt.Errorf("frame %d: submit: %w", seq, err)
	}
	s.mu.Lock()
	sl.pendingSeq = seq
	s.seq = seq
	s.mu.Unlock()

	// Step 6: present. Soft rebuild signals are absorbed by the swapchain
	// manager; anything surfacing here is a real failure, but the frame's
	// sequence stays consumed since the work was submitted.
	if err := s.chain.Present(imageIndex, sl.renderFinished); err != nil {
		return fmt.Errorf("frame %d: %w", seq, err)
	}
	return nil
}

// waitSlot blocks until the slot's previous frame completes, then credits
// its sequence to the completed watermark. A timeout is promoted to device
// loss: the GPU has stopped answering.
func (s *Scheduler) waitSlot(sl *slot) error {
	if sl.pendingSeq == 0 {
		return nil
	}
	if err := s.ctx.WaitFence(sl.fence, s.slotWait); err != nil {
		if errors.Is(err, hal.ErrTimeout) {
			s.log.Error("slot fence wait timed out", "seq", sl.pendingSeq, "timeout", s.slotWait)
			return fmt.Errorf("frame: slot wait for frame %d exceeded %v: %w",
				sl.pendingSeq, s.slotWait, hal.ErrDeviceLost)
		}
		return fmt.Errorf("frame: slot wait: %w", err)
	}
	s.mu.Lock()
	if sl.pendingSeq > s.completed {
		s.completed = sl.pendingSeq
	}
	sl.pendingSeq = 0
	s.mu.Unlock()
	return nil
}

// Drain waits for every in-flight frame and retires their resources. Called
// before swapchain rebuilds handled externally and before Destroy.
func (s *Scheduler) Drain() error {
	for i := range s.slots {
		if err := s.waitSlot(&s.slots[i]); err != nil {
			return err
		}
	}
	s.res.Collect(s.completed)
	return nil
}

// Destroy drains the ring and releases its primitives. Safe to call more
// than once; a failed drain (lost device) still releases host-side objects.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	if err := s.Drain(); err != nil {
		s.log.Warn("drain during destroy failed", "err", err)
	}
	dev := s.ctx.Device()
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.imageAvailable != nil {
			dev.DestroySemaphore(sl.imageAvailable)
		}
		if sl.renderFinished != nil {
			dev.DestroySemaphore(sl.renderFinished)
		}
		if sl.fence != nil {
			dev.DestroyFence(sl.fence)
		}
	}
	s.mu.Lock()
	submitted := s.seq
	s.mu.Unlock()
	s.log.Info("frame scheduler destroyed", "framesSubmitted", submitted)
}
