// Package rend is a real-time rendering core: device selection, GPU memory
// and resource management, swapchain recovery, frame pacing and command
// recording behind one small facade.
//
// The facade wires the sub-packages together:
//
//   - backend selects a hal.Backend implementation (gogpu/wgpu on hardware,
//     hal/halmock in tests)
//   - device opens the best adapter and resolves queue families
//   - alloc tracks memory budgets with generation-checked allocations
//   - resource owns buffers, images and pipelines behind tagged handles
//   - swapchain rebuilds the presentable image set on resize and
//     out-of-date signals
//   - frame paces K frames in flight with per-slot fences
//   - record validates handles while recording a frame's commands
//
// Basic use:
//
//	import _ "github.com/gogpu/rend/backend/wgpu"
//
//	eng, err := rend.Initialize(surface, extent, rend.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Shutdown()
//
//	dl := rend.NewDrawList()
//	dl.Add(rend.Draw{Pipeline: pipe, Vertices: verts, VertexCount: 6, InstanceCount: 1})
//	for running {
//		if err := eng.RenderFrame(dl); err != nil {
//			break
//		}
//	}
//
// rend produces no log output by default; call SetLogger to enable it.
package rend
