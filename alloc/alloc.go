// Package alloc adapts the device's native memory allocator with budget
// accounting and generation-tagged handles.
//
// The allocator is an adapter, not an owner: every block still comes from
// hal.Device.AllocateMemory. What it adds is validation before the device is
// touched, per-locality budget enforcement, and handles that fail fast when
// used after free instead of aliasing whatever block reused the slot.
package alloc

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/internal/noplog"
)

// Allocation is a generation-tagged handle to one memory block. The zero
// Allocation is invalid and never refers to a live block.
type Allocation struct {
	index      uint32
	generation uint32
}

// IsZero reports whether the handle is the invalid zero value.
func (a Allocation) IsZero() bool { return a.generation == 0 }

// String identifies the handle for logs.
func (a Allocation) String() string {
	return fmt.Sprintf("alloc(%d@%d)", a.index, a.generation)
}

// Stats is a point-in-time snapshot of allocator accounting.
type Stats struct {
	// Live is the number of blocks currently allocated.
	Live int

	// DeviceBytes and HostBytes are the live bytes per locality.
	DeviceBytes uint64
	HostBytes   uint64

	// PeakDeviceBytes and PeakHostBytes are the high-water marks.
	PeakDeviceBytes uint64
	PeakHostBytes   uint64

	// Allocs and Frees are lifetime operation counts.
	Allocs uint64
	Frees  uint64
}

// Config configures an Allocator.
type Config struct {
	// Device supplies the native allocations. Required.
	Device hal.Device

	// DeviceBudget caps live device-local bytes. Zero means the adapter's
	// reported heap size, or unlimited when the heap size is unknown.
	DeviceBudget uint64

	// HostBudget caps live host-visible bytes. Zero means unlimited.
	HostBudget uint64

	// Logger receives allocation failures and leak reports. Nil disables
	// logging.
	Logger *slog.Logger
}

type slot struct {
	memory     hal.DeviceMemory
	locality   hal.MemoryLocality
	size       uint64
	generation uint32
	live       bool
}

// Allocator tracks blocks handed out by the device and enforces budgets.
// It is safe for concurrent use.
type Allocator struct {
	dev hal.Device
	log *slog.Logger

	deviceBudget uint64
	hostBudget   uint64

	mu    sync.Mutex
	slots []slot
	free  []uint32
	stats Stats
}

// New returns an allocator over cfg.Device.
func New(cfg Config) (*Allocator, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("alloc: nil device: %w", hal.ErrInvalidUsage)
	}
	deviceBudget := cfg.DeviceBudget
	if deviceBudget == 0 {
		deviceBudget = cfg.Device.Info().HeapSize
	}
	return &Allocator{
		dev:          cfg.Device,
		log:          noplog.Or(cfg.Logger),
		deviceBudget: deviceBudget,
		hostBudget:   cfg.HostBudget,
	}, nil
}

// Allocate obtains a block of at least size bytes at the given alignment.
// Size must be non-zero and alignment a power of two (zero means no
// constraint). Budget exhaustion returns hal.ErrOutOfDeviceMemory or
// hal.ErrOutOfHostMemory by locality.
func (a *Allocator) Allocate(size, alignment uint64, locality hal.MemoryLocality) (Allocation, error) {
	if size == 0 {
		return Allocation{}, fmt.Errorf("alloc: zero-size allocation: %w", hal.ErrInvalidUsage)
	}
	if alignment != 0 && bits.OnesCount64(alignment) != 1 {
		return Allocation{}, fmt.Errorf("alloc: alignment %d not a power of two: %w",
			alignment, hal.ErrInvalidUsage)
	}

	if err := a.reserve(size, locality); err != nil {
		return Allocation{}, err
	}

	mem, err := a.dev.AllocateMemory(size, alignment, locality)
	if err != nil {
		a.release(size, locality)
		return Allocation{}, fmt.Errorf("alloc: device allocation of %d bytes: %w", size, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.memory = mem
	s.locality = locality
	s.size = size
	s.generation++
	s.live = true

	a.stats.Live++
	a.stats.Allocs++
	return Allocation{index: idx, generation: s.generation}, nil
}

func (a *Allocator) reserve(size uint64, locality hal.MemoryLocality) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch locality {
	case hal.LocalityDevice:
		if a.deviceBudget != 0 && a.stats.DeviceBytes+size > a.deviceBudget {
			a.log.Warn("device budget exhausted",
				"requested", size, "live", a.stats.DeviceBytes, "budget", a.deviceBudget)
			return fmt.Errorf("alloc: %d bytes over device budget %d: %w",
				a.stats.DeviceBytes+size, a.deviceBudget, hal.ErrOutOfDeviceMemory)
		}
		a.stats.DeviceBytes += size
		if a.stats.DeviceBytes > a.stats.PeakDeviceBytes {
			a.stats.PeakDeviceBytes = a.stats.DeviceBytes
		}
	case hal.LocalityHost:
		if a.hostBudget != 0 && a.stats.HostBytes+size > a.hostBudget {
			a.log.Warn("host budget exhausted",
				"requested", size, "live", a.stats.HostBytes, "budget", a.hostBudget)
			return fmt.Errorf("alloc: %d bytes over host budget %d: %w",
				a.stats.HostBytes+size, a.hostBudget, hal.ErrOutOfHostMemory)
		}
		a.stats.HostBytes += size
		if a.stats.HostBytes > a.stats.PeakHostBytes {
			a.stats.PeakHostBytes = a.stats.HostBytes
		}
	default:
		return fmt.Errorf("alloc: unknown locality %v: %w", locality, hal.ErrInvalidUsage)
	}
	return nil
}

func (a *Allocator) release(size uint64, locality hal.MemoryLocality) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if locality == hal.LocalityDevice {
		a.stats.DeviceBytes -= size
	} else {
		a.stats.HostBytes -= size
	}
}

// lookup resolves h to its slot under a.mu, failing with ErrStaleHandle
// when the handle does not match a live block.
func (a *Allocator) lookup(h Allocation) (*slot, error) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, fmt.Errorf("alloc: %v: %w", h, hal.ErrStaleHandle)
	}
	s := &a.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil, fmt.Errorf("alloc: %v: %w", h, hal.ErrStaleHandle)
	}
	return s, nil
}

// Memory returns the block behind h. O(1); fails with hal.ErrStaleHandle
// when h has been freed.
func (a *Allocator) Memory(h Allocation) (hal.DeviceMemory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.memory, nil
}

// Free returns the block behind h to the device. A second Free of the same
// handle fails with hal.ErrStaleHandle; it never frees the slot's new
// occupant.
func (a *Allocator) Free(h Allocation) error {
	a.mu.Lock()
	s, err := a.lookup(h)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	mem, size, locality := s.memory, s.size, s.locality
	s.memory = nil
	s.live = false
	a.free = append(a.free, h.index)
	a.stats.Live--
	a.stats.Frees++
	if locality == hal.LocalityDevice {
		a.stats.DeviceBytes -= size
	} else {
		a.stats.HostBytes -= size
	}
	a.mu.Unlock()

	if err := a.dev.FreeMemory(mem); err != nil {
		return fmt.Errorf("alloc: free %v: %w", h, err)
	}
	return nil
}

// Stats returns a snapshot of the accounting counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close frees every block still live, logging a leak report when any
// remain. Callers are expected to have freed everything already.
func (a *Allocator) Close() {
	a.mu.Lock()
	var leaked []hal.DeviceMemory
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			leaked = append(leaked, s.memory)
			s.memory = nil
			s.live = false
		}
	}
	live := a.stats.Live
	a.stats.Live = 0
	a.stats.DeviceBytes = 0
	a.stats.HostBytes = 0
	a.mu.Unlock()

	if live > 0 {
		a.log.Warn("allocator closed with live blocks", "count", live)
	}
	for _, mem := range leaked {
		_ = a.dev.FreeMemory(mem)
	}
}
