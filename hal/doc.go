// Package hal defines the hardware abstraction layer for the rendering core.
//
// The engine never talks to a GPU API directly. Everything above this
// package (device context, allocator, resource manager, swapchain manager,
// frame scheduler, command recorder) is written against the interfaces
// defined here. Concrete implementations live in backend packages
// (backend/wgpu for real hardware via gogpu/wgpu) and in hal/halmock for
// deterministic testing.
//
// # Synchronization model
//
// Two primitive kinds cover all cross-timeline ordering:
//
//   - Fence: a host-waitable, single-signal completion flag. The CPU blocks
//     on it via Device.WaitFence with an explicit timeout; it is recycled
//     with Device.ResetFence. Fences carry frame back-pressure.
//   - Semaphore: a device-side ordering signal between queue operations.
//     The host never waits on a semaphore.
//
// No operation in this package busy-polls; every wait is a blocking call
// with a bounded timeout.
//
// # Error taxonomy
//
// Errors split into three classes with distinct recovery policies:
// transient (recovered internally by rebuild-and-retry), resource (surfaced
// to the immediate caller, engine state intact), and fatal (full teardown
// required). See IsTransient, IsResource and IsFatal.
package hal
