// Package backend selects the hal.Backend the engine runs on.
//
// Backend packages register a factory from their init function; callers
// pick one explicitly with Get or let Default walk the priority order.
package backend

import (
	"errors"

	"github.com/gogpu/rend/hal"
)

// Well-known backend names.
const (
	// BackendWGPU is the hardware backend over gogpu/wgpu.
	BackendWGPU = "wgpu"

	// BackendMock is the deterministic in-memory backend used by tests.
	BackendMock = "mock"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory creates a new backend instance.
type Factory func() hal.Backend
