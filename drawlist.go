package rend

import "github.com/gogpu/rend/resource"

// UniformBinding attaches a uniform buffer to one binding slot.
type UniformBinding struct {
	// Buffer is the uniform buffer handle.
	Buffer resource.Handle

	// Slot is the shader binding slot.
	Slot uint32
}

// Draw is one draw request: a pipeline, its inputs and the counts.
type Draw struct {
	// Pipeline selects the compiled pipeline.
	Pipeline resource.Handle

	// Vertices is the vertex buffer consumed by the draw.
	Vertices resource.Handle

	// Uniforms are the uniform buffers bound before the draw.
	Uniforms []UniformBinding

	// VertexCount is the number of vertices to draw.
	VertexCount uint32

	// InstanceCount is the number of instances; zero is treated as one.
	InstanceCount uint32
}

// DrawList is a flat list of draw requests consumed by RenderFrame. It is
// not safe for concurrent use; build it on the render goroutine and reuse
// it across frames via Reset.
type DrawList struct {
	draws []Draw
}

// NewDrawList returns an empty draw list.
func NewDrawList() *DrawList { return &DrawList{} }

// Add appends one draw request.
func (dl *DrawList) Add(d Draw) {
	if d.InstanceCount == 0 {
		d.InstanceCount = 1
	}
	dl.draws = append(dl.draws, d)
}

// Len returns the number of draw requests.
func (dl *DrawList) Len() int { return len(dl.draws) }

// Reset empties the list, keeping its capacity.
func (dl *DrawList) Reset() { dl.draws = dl.draws[:0] }
