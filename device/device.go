// Package device owns the logical GPU device: adapter selection, queue
// resolution, command pool lifetime and the device-lost latch.
//
// A Context is created once per engine instance. Every queue operation goes
// through it so that a single device-lost observation fails all later work
// fast instead of letting callers wait on fences that will never signal.
package device

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/internal/noplog"
)

const numQueueKinds = 4

// Config configures Context creation.
type Config struct {
	// Backend enumerates adapters and opens devices. Required.
	Backend hal.Backend

	// Surface is the presentation target. Required unless Headless.
	Surface hal.Surface

	// Headless skips the presentation requirement during selection, for
	// compute-only and test use.
	Headless bool

	// Logger receives device lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

// Context is the logical device plus everything resolved at open time:
// the selected adapter, the family bound to each queue kind and one command
// pool per distinct family.
type Context struct {
	dev  hal.Device
	info hal.AdapterInfo
	log  *slog.Logger

	surface  hal.Surface
	families [numQueueKinds]uint32

	mu     sync.Mutex
	pools  map[uint32]hal.CommandPool
	closed bool

	lost atomic.Bool
}

// New enumerates adapters on cfg.Backend, selects the best suitable one and
// opens a device on it. Returns hal.ErrNoSuitableDevice when no adapter
// satisfies the queue and presentation requirements.
func New(cfg Config) (*Context, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("device: nil backend: %w", hal.ErrInvalidUsage)
	}
	log := noplog.Or(cfg.Logger)

	infos, err := cfg.Backend.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate adapters: %w", err)
	}

	req := requirements{present: !cfg.Headless}
	idx, err := selectAdapter(infos, req)
	if err != nil {
		return nil, err
	}
	info := infos[idx]

	families, err := resolveQueues(info, req)
	if err != nil {
		return nil, err
	}

	dev, err := cfg.Backend.Open(idx)
	if err != nil {
		return nil, fmt.Errorf("device: open adapter %q: %w", info.Name, err)
	}

	ctx := &Context{
		dev:      dev,
		info:     info,
		log:      log,
		surface:  cfg.Surface,
		families: families,
		pools:    make(map[uint32]hal.CommandPool),
	}
	for _, family := range distinct(families[:]) {
		pool, err := dev.CreateCommandPool(family)
		if err != nil {
			ctx.Close()
			return nil, fmt.Errorf("device: create command pool for family %d: %w", family, err)
		}
		ctx.pools[family] = pool
	}

	log.Info("device opened",
		"adapter", info.Name,
		"class", info.Class.String(),
		"graphicsFamily", families[hal.QueueGraphics],
		"presentFamily", families[hal.QueuePresent])
	return ctx, nil
}

func distinct(families []uint32) []uint32 {
	seen := make(map[uint32]bool, len(families))
	var out []uint32
	for _, f := range families {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Device returns the underlying hal device.
func (c *Context) Device() hal.Device { return c.dev }

// Info returns the selected adapter.
func (c *Context) Info() hal.AdapterInfo { return c.info }

// Surface returns the presentation surface the context was created with.
func (c *Context) Surface() hal.Surface { return c.surface }

// Family returns the queue family index serving the given kind.
func (c *Context) Family(kind hal.QueueKind) uint32 {
	return c.families[kind]
}

// Pool returns the command pool of the family serving the given kind.
func (c *Context) Pool(kind hal.QueueKind) hal.CommandPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pools[c.families[kind]]
}

// Lost reports whether the device has been observed lost. Once set it never
// clears; recovery requires a new Context.
func (c *Context) Lost() bool { return c.lost.Load() }

// latch inspects err and trips the lost latch on device loss.
func (c *Context) latch(err error) error {
	if err != nil && hal.IsFatal(err) && !c.lost.Swap(true) {
		c.log.Error("device lost", "err", err)
	}
	return err
}

// Submit enqueues work on the queue of the given kind. After the device has
// been observed lost, Submit fails immediately with hal.ErrDeviceLost.
func (c *Context) Submit(kind hal.QueueKind, info hal.SubmitInfo) error {
	if c.lost.Load() {
		return hal.ErrDeviceLost
	}
	return c.latch(c.dev.Submit(kind, info))
}

// WaitFence waits for f with the given timeout, tripping the lost latch on
// device loss.
func (c *Context) WaitFence(f hal.Fence, timeout time.Duration) error {
	if c.lost.Load() {
		return hal.ErrDeviceLost
	}
	return c.latch(c.dev.WaitFence(f, timeout))
}

// WaitIdle drains the queue of the given kind.
func (c *Context) WaitIdle(kind hal.QueueKind) error {
	if c.lost.Load() {
		return hal.ErrDeviceLost
	}
	return c.latch(c.dev.QueueWaitIdle(kind))
}

// WaitAllIdle drains every distinct queue once.
func (c *Context) WaitAllIdle() error {
	if c.lost.Load() {
		return hal.ErrDeviceLost
	}
	seen := make(map[uint32]bool, numQueueKinds)
	for _, kind := range hal.QueueKinds() {
		family := c.families[kind]
		if seen[family] {
			continue
		}
		seen[family] = true
		if err := c.latch(c.dev.QueueWaitIdle(kind)); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queues, destroys the command pools and releases the
// device. Safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pools := c.pools
	c.pools = nil
	c.mu.Unlock()

	if !c.lost.Load() {
		// Pools must not be destroyed under in-flight work.
		_ = c.WaitAllIdle()
	}
	for _, pool := range pools {
		pool.Destroy()
	}
	c.dev.Destroy()
	c.log.Info("device closed", "adapter", c.info.Name)
}
