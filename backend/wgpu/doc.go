// Package wgpu implements the engine's hardware abstraction layer on top of
// github.com/gogpu/wgpu.
//
// The adapter bridges two models. The engine's hal speaks Vulkan-style
// binary fences, semaphores and explicit memory; gogpu/wgpu exposes
// timeline fences, an implicitly ordered single queue and driver-managed
// allocation. Fences map onto timeline values (each reset arms the next
// value), semaphores become inert tokens since single-queue submission
// order already provides the required ordering, and memory blocks become
// accounting records whose host-visible variant carries the CPU staging
// mirror flushed with Queue.WriteBuffer before submission.
//
// Presentation is offscreen: the swapchain is a ring of render-attachment
// textures, and Present reads the rendered texture back through a staging
// buffer and hands the pixels to the registered PresentFunc. The windowing
// collaborator owns the actual window blit.
//
// Shader source is WGSL. Pipelines validate it through naga before handing
// it to the device.
package wgpu
