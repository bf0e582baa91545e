package hal

import "errors"

// Transient errors. These are recovered locally by rebuild-and-retry and are
// never surfaced as failures to the application.
var (
	// ErrSurfaceOutOfDate is returned when the swapchain no longer matches
	// the native surface (resize, minimize). The caller must rebuild the
	// swapchain and retry the frame.
	ErrSurfaceOutOfDate = errors.New("hal: surface out of date")

	// ErrSurfaceSuboptimal is returned by a present that succeeded but
	// against a surface whose properties have drifted. It is a soft signal
	// to rebuild on the next frame, not a failure.
	ErrSurfaceSuboptimal = errors.New("hal: surface suboptimal")

	// ErrTimeout is returned when a bounded wait expires before the
	// awaited signal fires.
	ErrTimeout = errors.New("hal: wait timed out")
)

// Resource errors. These are surfaced to the immediate caller of the
// operation that triggered them; engine state remains valid and the caller
// may retry after freeing resources.
var (
	// ErrOutOfDeviceMemory is returned when a device-local allocation
	// cannot be satisfied.
	ErrOutOfDeviceMemory = errors.New("hal: out of device memory")

	// ErrOutOfHostMemory is returned when a host-visible allocation
	// cannot be satisfied.
	ErrOutOfHostMemory = errors.New("hal: out of host memory")

	// ErrInvalidUsage is returned when allocation or creation parameters
	// are malformed (zero size, bad alignment, empty usage).
	ErrInvalidUsage = errors.New("hal: invalid usage")

	// ErrStaleHandle is returned when a generation-tagged handle no longer
	// matches the live entry it once referred to. Stale handles fail fast;
	// they never alias whatever now occupies the slot.
	ErrStaleHandle = errors.New("hal: stale handle")

	// ErrInvalidResourceReference is returned when command recording
	// references a stale or destroyed resource. The check happens at record
	// time so that nothing invalid ever reaches the device.
	ErrInvalidResourceReference = errors.New("hal: invalid resource reference")
)

// Fatal errors. The engine does not attempt automatic recovery; the
// application must tear everything down and reinitialize.
var (
	// ErrDeviceLost is returned when the device is gone (driver reset,
	// GPU hang). All handles derived from the device are invalid.
	ErrDeviceLost = errors.New("hal: device lost")

	// ErrSurfaceLost is returned when the native surface itself is gone
	// and must be recreated by the windowing collaborator.
	ErrSurfaceLost = errors.New("hal: surface lost")

	// ErrNoSuitableDevice is returned when no enumerated adapter satisfies
	// the engine's queue, presentation and feature requirements.
	ErrNoSuitableDevice = errors.New("hal: no suitable device")
)

// IsTransient reports whether err is a condition that the engine recovers
// from internally (swapchain rebuild, retry) without failing the frame.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSurfaceOutOfDate) ||
		errors.Is(err, ErrSurfaceSuboptimal) ||
		errors.Is(err, ErrTimeout)
}

// IsResource reports whether err is a resource-class error: surfaced to the
// caller, recoverable by freeing resources, engine state intact.
func IsResource(err error) bool {
	return errors.Is(err, ErrOutOfDeviceMemory) ||
		errors.Is(err, ErrOutOfHostMemory) ||
		errors.Is(err, ErrInvalidUsage) ||
		errors.Is(err, ErrStaleHandle) ||
		errors.Is(err, ErrInvalidResourceReference)
}

// IsFatal reports whether err requires full engine teardown and
// reinitialization.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost) ||
		errors.Is(err, ErrSurfaceLost) ||
		errors.Is(err, ErrNoSuitableDevice)
}
