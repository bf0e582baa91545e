package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	wgpuhal "github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rend/hal"
)

// pipeline is a compiled render pipeline plus the layout objects it owns.
type pipeline struct {
	p        wgpuhal.RenderPipeline
	layout   wgpuhal.PipelineLayout
	bgLayout wgpuhal.BindGroupLayout
	vs       wgpuhal.ShaderModule
	fs       wgpuhal.ShaderModule
}

// CreatePipeline compiles the WGSL stages and builds a render pipeline.
// Source is validated through naga before reaching the device so shader
// errors surface at creation rather than at draw time.
func (d *Device) CreatePipeline(desc hal.PipelineDescriptor) (hal.Pipeline, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc.VertexSource == "" || desc.FragmentSource == "" {
		return nil, fmt.Errorf("wgpu: pipeline %q missing shader source: %w", desc.Label, hal.ErrInvalidUsage)
	}
	if _, err := naga.Compile(desc.VertexSource); err != nil {
		return nil, fmt.Errorf("wgpu: vertex shader %q: %v: %w", desc.Label, err, hal.ErrInvalidUsage)
	}
	if _, err := naga.Compile(desc.FragmentSource); err != nil {
		return nil, fmt.Errorf("wgpu: fragment shader %q: %v: %w", desc.Label, err, hal.ErrInvalidUsage)
	}

	p := &pipeline{}
	fail := func(err error) (hal.Pipeline, error) {
		d.destroyPipeline(p)
		return nil, err
	}

	vs, err := d.dev.CreateShaderModule(&wgpuhal.ShaderModuleDescriptor{
		Label:  desc.Label + "_vs",
		Source: wgpuhal.ShaderSource{WGSL: desc.VertexSource},
	})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create vertex module %q: %w", desc.Label, err))
	}
	p.vs = vs

	fs, err := d.dev.CreateShaderModule(&wgpuhal.ShaderModuleDescriptor{
		Label:  desc.Label + "_fs",
		Source: wgpuhal.ShaderSource{WGSL: desc.FragmentSource},
	})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create fragment module %q: %w", desc.Label, err))
	}
	p.fs = fs

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Bindings))
	for i, slot := range desc.Bindings {
		bindingType := gputypes.BufferBindingTypeUniform
		if slot.Usage&hal.BufferUsageStorage != 0 {
			bindingType = gputypes.BufferBindingTypeStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    slot.Slot,
			Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType},
		}
	}
	bgLayout, err := d.dev.CreateBindGroupLayout(&wgpuhal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bindings",
		Entries: entries,
	})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create bind group layout %q: %w", desc.Label, err))
	}
	p.bgLayout = bgLayout

	layout, err := d.dev.CreatePipelineLayout(&wgpuhal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: []wgpuhal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create pipeline layout %q: %w", desc.Label, err))
	}
	p.layout = layout

	attrs := make([]gputypes.VertexAttribute, len(desc.Vertex.Attributes))
	for i, a := range desc.Vertex.Attributes {
		attrs[i] = gputypes.VertexAttribute{
			Format:         vertexFormat(a.Format),
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		}
	}

	premulBlend := gputypes.BlendStatePremultiplied()
	rp, err := d.dev.CreateRenderPipeline(&wgpuhal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: wgpuhal.VertexState{
			Module:     vs,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: uint64(desc.Vertex.Stride),
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes:  attrs,
			}},
		},
		Fragment: &wgpuhal.FragmentState{
			Module:     fs,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    textureFormat(desc.ColorFormat),
				Blend:     &premulBlend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create render pipeline %q: %w", desc.Label, err))
	}
	p.p = rp
	return p, nil
}

// DestroyPipeline releases a pipeline and its layout objects.
func (d *Device) DestroyPipeline(hp hal.Pipeline) {
	if p, ok := hp.(*pipeline); ok {
		d.destroyPipeline(p)
	}
}

func (d *Device) destroyPipeline(p *pipeline) {
	if p.p != nil {
		d.dev.DestroyRenderPipeline(p.p)
	}
	if p.layout != nil {
		d.dev.DestroyPipelineLayout(p.layout)
	}
	if p.bgLayout != nil {
		d.dev.DestroyBindGroupLayout(p.bgLayout)
	}
	if p.vs != nil {
		d.dev.DestroyShaderModule(p.vs)
	}
	if p.fs != nil {
		d.dev.DestroyShaderModule(p.fs)
	}
}
