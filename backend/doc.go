// Package backend provides a pluggable GPU backend abstraction.
//
// The backend package lets the engine run on different hal.Backend
// implementations. The wgpu backend drives real hardware via gogpu/wgpu;
// the mock backend in hal/halmock drives tests.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The wgpu backend is registered on import:
//
//	import _ "github.com/gogpu/rend/backend/wgpu"
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	// Get the default (best available) backend
//	b := backend.Default()
//
//	// Or request a specific backend
//	b := backend.Get("wgpu")
//
// # Available Backends
//
// - "wgpu": GPU hardware via gogpu/wgpu
// - "mock": deterministic in-memory device (tests only)
package backend
