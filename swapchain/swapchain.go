// Package swapchain manages the presentable image chain of one surface.
//
// The chain moves through three states. Valid chains serve acquires and
// presents. An out-of-date chain (window resized, surface changed) is
// rebuilt in place and the acquire retried, so callers above never see the
// transient condition. A destroyed chain rejects everything.
//
// Rebuilds drain the graphics and present queues first, then hand the old
// chain to the backend so image memory can be recycled. Rebuilding an
// already up-to-date chain is a no-op at the allocation level: one chain's
// worth of images is live before and after.
package swapchain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/rend/device"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/internal/noplog"
)

// State is the lifecycle state of the managed chain.
type State uint8

const (
	// StateValid means the chain serves acquires and presents.
	StateValid State = iota

	// StateOutOfDate means the chain no longer matches the surface and
	// will be rebuilt on the next acquire.
	StateOutOfDate

	// StateDestroyed means the chain is gone for good.
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateOutOfDate:
		return "out-of-date"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// maxAcquireRebuilds bounds the rebuild-and-retry loop inside one Acquire.
// Two rebuilds in a row means the surface is changing faster than we can
// chase it; give the frame back instead of spinning.
const maxAcquireRebuilds = 2

// Config configures a Manager.
type Config struct {
	// Context is the device context owning the surface. Required.
	Context *device.Context

	// Extent is the initial surface size. Required non-zero.
	Extent hal.Extent

	// Logger receives rebuild events. Nil disables logging.
	Logger *slog.Logger
}

// Manager owns one hal.Swapchain and its rebuild policy. Methods must be
// called from the render goroutine; NotifyResize alone is safe to call
// from any goroutine.
type Manager struct {
	ctx *device.Context
	log *slog.Logger

	mu      sync.Mutex
	chain   hal.Swapchain
	state   State
	extent  hal.Extent
	resized bool

	rebuilds uint64
}

// New builds the initial chain.
func New(cfg Config) (*Manager, error) {
	if cfg.Context == nil {
		return nil, fmt.Errorf("swapchain: nil device context: %w", hal.ErrInvalidUsage)
	}
	if cfg.Extent.IsZero() {
		return nil, fmt.Errorf("swapchain: zero initial extent: %w", hal.ErrInvalidUsage)
	}
	m := &Manager{
		ctx:    cfg.Context,
		log:    noplog.Or(cfg.Logger),
		extent: cfg.Extent,
	}
	chain, err := cfg.Context.Device().CreateSwapchain(cfg.Context.Surface(), cfg.Extent, nil)
	if err != nil {
		return nil, fmt.Errorf("swapchain: create: %w", err)
	}
	m.chain = chain
	m.log.Info("swapchain created",
		"extent", chain.Extent().String(),
		"images", chain.ImageCount(),
		"format", chain.Format().String())
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Extent returns the extent of the current chain.
func (m *Manager) Extent() hal.Extent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chain == nil {
		return hal.Extent{}
	}
	return m.chain.Extent()
}

// Format returns the image format of the current chain.
func (m *Manager) Format() hal.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chain == nil {
		return hal.FormatBGRA8SRGB
	}
	return m.chain.Format()
}

// ImageCount returns the number of images in the current chain.
func (m *Manager) ImageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chain == nil {
		return 0
	}
	return m.chain.ImageCount()
}

// Rebuilds returns how many times the chain has been rebuilt.
func (m *Manager) Rebuilds() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuilds
}

// NotifyResize records a new surface extent. The chain is rebuilt lazily on
// the next acquire; a zero extent (minimized window) makes acquires fail
// with hal.ErrSurfaceOutOfDate until a non-zero resize arrives.
func (m *Manager) NotifyResize(extent hal.Extent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return
	}
	m.extent = extent
	m.resized = true
	if m.state == StateValid {
		m.state = StateOutOfDate
	}
}

// Acquire returns the next image index to render into. Out-of-date chains
// are rebuilt and the acquire retried transparently; the error surfaces
// only when the surface cannot currently be rendered to at all (minimized,
// lost, or changing faster than rebuilds can track).
func (m *Manager) Acquire(signal hal.Semaphore, timeout time.Duration) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		return 0, fmt.Errorf("swapchain: acquire on destroyed chain: %w", hal.ErrSurfaceLost)
	}

	for attempt := 0; ; attempt++ {
		if m.state == StateOutOfDate {
			if err := m.rebuildLocked(); err != nil {
				return 0, err
			}
		}
		idx, err := m.chain.Acquire(signal, timeout)
		if err == nil {
			return idx, nil
		}
		if !errors.Is(err, hal.ErrSurfaceOutOfDate) && !errors.Is(err, hal.ErrSurfaceSuboptimal) {
			return 0, fmt.Errorf("swapchain: acquire: %w", err)
		}
		m.state = StateOutOfDate
		if attempt >= maxAcquireRebuilds {
			return 0, fmt.Errorf("swapchain: acquire after %d rebuilds: %w", attempt, err)
		}
	}
}

// Present queues imageIndex for display. A suboptimal or out-of-date
// present result is absorbed as a rebuild signal for the next frame and
// reported as success: the image was still queued.
func (m *Manager) Present(imageIndex uint32, wait hal.Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		return fmt.Errorf("swapchain: present on destroyed chain: %w", hal.ErrSurfaceLost)
	}
	err := m.chain.Present(imageIndex, wait)
	if err == nil {
		return nil
	}
	if hal.IsTransient(err) {
		m.log.Debug("present flagged rebuild", "err", err)
		m.state = StateOutOfDate
		return nil
	}
	return fmt.Errorf("swapchain: present image %d: %w", imageIndex, err)
}

// Rebuild forces an immediate rebuild against the latest known extent.
func (m *Manager) Rebuild() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return fmt.Errorf("swapchain: rebuild on destroyed chain: %w", hal.ErrSurfaceLost)
	}
	return m.rebuildLocked()
}

// rebuildLocked replaces the chain under m.mu. The old chain is passed to
// the backend for resource recycling and destroyed afterwards, so the live
// image allocation count stays level across any number of rebuilds.
func (m *Manager) rebuildLocked() error {
	extent := m.extent
	if !m.resized && m.chain != nil {
		extent = m.chain.Extent()
	}
	if extent.IsZero() {
		// Minimized. Stay out of date until a real extent arrives.
		return fmt.Errorf("swapchain: surface minimized: %w", hal.ErrSurfaceOutOfDate)
	}

	// In-flight work may still target the old images.
	if err := m.ctx.WaitIdle(hal.QueueGraphics); err != nil {
		return fmt.Errorf("swapchain: drain before rebuild: %w", err)
	}
	if err := m.ctx.WaitIdle(hal.QueuePresent); err != nil {
		return fmt.Errorf("swapchain: drain before rebuild: %w", err)
	}

	old := m.chain
	chain, err := m.ctx.Device().CreateSwapchain(m.ctx.Surface(), extent, old)
	if err != nil {
		return fmt.Errorf("swapchain: rebuild at %s: %w", extent, err)
	}
	if old != nil {
		old.Destroy()
	}
	m.chain = chain
	m.state = StateValid
	m.resized = false
	m.rebuilds++
	m.log.Info("swapchain rebuilt",
		"extent", chain.Extent().String(),
		"images", chain.ImageCount(),
		"rebuilds", m.rebuilds)
	return nil
}

// Destroy drains the queues and releases the chain. Safe to call more than
// once.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return
	}
	m.state = StateDestroyed
	_ = m.ctx.WaitIdle(hal.QueueGraphics)
	_ = m.ctx.WaitIdle(hal.QueuePresent)
	if m.chain != nil {
		m.chain.Destroy()
		m.chain = nil
	}
	m.log.Info("swapchain destroyed")
}
