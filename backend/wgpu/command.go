package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	wgpuhal "github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rend/hal"
)

type commandPool struct {
	dev  *Device
	bufs []*commandBuffer
}

// AllocateCommandBuffer returns a new resettable command buffer.
func (p *commandPool) AllocateCommandBuffer() (hal.CommandBuffer, error) {
	cb := &commandBuffer{dev: p.dev}
	p.bufs = append(p.bufs, cb)
	return cb, nil
}

// Destroy releases the pool and its buffers.
func (p *commandPool) Destroy() {
	for _, cb := range p.bufs {
		cb.release()
	}
	p.bufs = nil
}

type opKind uint8

const (
	opBindPipeline opKind = iota
	opBindVertex
	opBindUniform
	opDraw
	opCopyBuffer
	opCopyToImage
	opBarrier
)

type op struct {
	kind     opKind
	pipeline *pipeline
	buf      *buffer
	dst      *buffer
	img      *image
	slot     uint32
	a, b     uint32
	size     uint64
}

// commandBuffer records commands CPU-side and encodes them into a wgpu
// command encoder when the owning device submits. Draws target the most
// recently acquired swapchain image; copies run in a pre-pass before the
// render pass, and a barrier splits the render pass.
type commandBuffer struct {
	dev *Device

	ops     []op
	touched []*buffer

	recording bool
	ended     bool

	// encoded is the wgpu buffer from the last submit, freed on Reset
	// together with the transient bind groups created during encoding.
	encoded   wgpuhal.CommandBuffer
	hasCoded  bool
	transient []wgpuhal.BindGroup
}

// Begin opens the buffer for recording.
func (c *commandBuffer) Begin() error {
	if c.recording {
		return fmt.Errorf("wgpu: command buffer already recording: %w", hal.ErrInvalidUsage)
	}
	c.recording = true
	c.ended = false
	return nil
}

func (c *commandBuffer) record(o op) error {
	if !c.recording {
		return fmt.Errorf("wgpu: command buffer not recording: %w", hal.ErrInvalidUsage)
	}
	c.ops = append(c.ops, o)
	return nil
}

func (c *commandBuffer) touch(b *buffer) {
	for _, t := range c.touched {
		if t == b {
			return
		}
	}
	c.touched = append(c.touched, b)
}

// BindPipeline selects the pipeline for subsequent draws.
func (c *commandBuffer) BindPipeline(p hal.Pipeline) error {
	wp, ok := p.(*pipeline)
	if !ok {
		return fmt.Errorf("wgpu: foreign pipeline %T", p)
	}
	return c.record(op{kind: opBindPipeline, pipeline: wp})
}

// BindVertexBuffer selects the vertex buffer for subsequent draws.
func (c *commandBuffer) BindVertexBuffer(b hal.Buffer) error {
	wb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", b)
	}
	c.touch(wb)
	return c.record(op{kind: opBindVertex, buf: wb})
}

// BindUniformBuffer binds a uniform buffer at the given slot.
func (c *commandBuffer) BindUniformBuffer(b hal.Buffer, slot uint32) error {
	wb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", b)
	}
	c.touch(wb)
	return c.record(op{kind: opBindUniform, buf: wb, slot: slot})
}

// Draw appends a draw call.
func (c *commandBuffer) Draw(vertexCount, instanceCount uint32) error {
	return c.record(op{kind: opDraw, a: vertexCount, b: instanceCount})
}

// CopyBuffer appends a buffer-to-buffer copy.
func (c *commandBuffer) CopyBuffer(src, dst hal.Buffer, size uint64) error {
	ws, ok := src.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", src)
	}
	wd, ok := dst.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", dst)
	}
	c.touch(ws)
	return c.record(op{kind: opCopyBuffer, buf: ws, dst: wd, size: size})
}

// CopyBufferToImage appends a tightly packed whole-image upload.
func (c *commandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image) error {
	ws, ok := src.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", src)
	}
	wi, ok := dst.(*image)
	if !ok {
		return fmt.Errorf("wgpu: foreign image %T", dst)
	}
	c.touch(ws)
	return c.record(op{kind: opCopyToImage, buf: ws, img: wi})
}

// Barrier appends a full barrier, realized as a render pass split.
func (c *commandBuffer) Barrier() error {
	return c.record(op{kind: opBarrier})
}

// End closes recording.
func (c *commandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("wgpu: end without begin: %w", hal.ErrInvalidUsage)
	}
	c.recording = false
	c.ended = true
	return nil
}

// Reset discards recorded commands and frees the previous encoding. The
// caller guarantees prior submissions using this buffer have retired.
func (c *commandBuffer) Reset() error {
	c.release()
	c.ops = c.ops[:0]
	c.touched = c.touched[:0]
	c.recording = false
	c.ended = false
	return nil
}

func (c *commandBuffer) release() {
	if c.hasCoded {
		c.dev.dev.FreeCommandBuffer(c.encoded)
		c.hasCoded = false
	}
	for _, bg := range c.transient {
		c.dev.dev.DestroyBindGroup(bg)
	}
	c.transient = nil
}

// passState is the render state re-applied when a barrier splits the pass.
type passState struct {
	pipeline *pipeline
	vertex   *buffer
	uniforms map[uint32]*buffer
}

func (s *passState) apply(rp wgpuhal.RenderPassEncoder, c *commandBuffer) error {
	if s.pipeline != nil {
		rp.SetPipeline(s.pipeline.p)
	}
	if s.vertex != nil {
		rp.SetVertexBuffer(0, s.vertex.buf, 0)
	}
	if len(s.uniforms) > 0 {
		if s.pipeline == nil {
			return fmt.Errorf("wgpu: uniform bound without pipeline: %w", hal.ErrInvalidUsage)
		}
		bg, err := c.makeBindGroup(s.pipeline, s.uniforms)
		if err != nil {
			return err
		}
		rp.SetBindGroup(0, bg, nil)
	}
	return nil
}

func (c *commandBuffer) makeBindGroup(p *pipeline, uniforms map[uint32]*buffer) (wgpuhal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, 0, len(uniforms))
	for slot, b := range uniforms {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: slot,
			Resource: gputypes.BufferBinding{
				Buffer: b.buf.NativeHandle(),
				Offset: 0,
				Size:   b.size,
			},
		})
	}
	bg, err := c.dev.dev.CreateBindGroup(&wgpuhal.BindGroupDescriptor{
		Label:   "rend_draw_bindings",
		Layout:  p.bgLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group: %w", err)
	}
	c.transient = append(c.transient, bg)
	return bg, nil
}

// encode replays the recorded commands into a fresh wgpu command buffer.
// Copies stay outside the render pass; the pass is opened lazily at the
// first draw, clearing the target, and reopened loading after a split.
func (c *commandBuffer) encode(d *Device) (wgpuhal.CommandBuffer, error) {
	if !c.ended {
		return nil, fmt.Errorf("wgpu: submit of open command buffer: %w", hal.ErrInvalidUsage)
	}
	c.release()

	enc, err := d.dev.CreateCommandEncoder(&wgpuhal.CommandEncoderDescriptor{Label: "rend_frame"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create encoder: %w", err)
	}
	if err := enc.BeginEncoding("rend_frame"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	state := passState{uniforms: make(map[uint32]*buffer)}
	var rp wgpuhal.RenderPassEncoder
	cleared := false

	openPass := func() error {
		if rp != nil {
			return nil
		}
		target := d.renderTarget()
		if target == nil {
			return fmt.Errorf("wgpu: draw without acquired image: %w", hal.ErrInvalidUsage)
		}
		loadOp := gputypes.LoadOpClear
		if cleared {
			loadOp = gputypes.LoadOpLoad
		}
		rp = enc.BeginRenderPass(&wgpuhal.RenderPassDescriptor{
			Label: "rend_pass",
			ColorAttachments: []wgpuhal.RenderPassColorAttachment{{
				View:       target.view,
				LoadOp:     loadOp,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{},
			}},
		})
		cleared = true
		return state.apply(rp, c)
	}
	closePass := func() {
		if rp != nil {
			rp.End()
			rp = nil
		}
	}

	for _, o := range c.ops {
		switch o.kind {
		case opBindPipeline:
			state.pipeline = o.pipeline
			if rp != nil {
				rp.SetPipeline(o.pipeline.p)
			}
		case opBindVertex:
			state.vertex = o.buf
			if rp != nil {
				rp.SetVertexBuffer(0, o.buf.buf, 0)
			}
		case opBindUniform:
			state.uniforms[o.slot] = o.buf
			if rp != nil {
				if state.pipeline == nil {
					enc.DiscardEncoding()
					return nil, fmt.Errorf("wgpu: uniform bound without pipeline: %w", hal.ErrInvalidUsage)
				}
				bg, err := c.makeBindGroup(state.pipeline, state.uniforms)
				if err != nil {
					enc.DiscardEncoding()
					return nil, err
				}
				rp.SetBindGroup(0, bg, nil)
			}
		case opDraw:
			if err := openPass(); err != nil {
				enc.DiscardEncoding()
				return nil, err
			}
			rp.Draw(o.a, o.b, 0, 0)
		case opCopyBuffer:
			closePass()
			enc.CopyBufferToBuffer(o.buf.buf, o.dst.buf, []wgpuhal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: o.size}})
		case opCopyToImage:
			closePass()
			bpp := uint32(o.img.format.BytesPerPixel())
			enc.CopyBufferToTexture(o.buf.buf, o.img.tex, []wgpuhal.BufferTextureCopy{{
				BufferLayout: wgpuhal.ImageDataLayout{
					Offset:       0,
					BytesPerRow:  o.img.extent.Width * bpp,
					RowsPerImage: o.img.extent.Height,
				},
				TextureBase: wgpuhal.ImageCopyTexture{Texture: o.img.tex, MipLevel: 0},
				Size: wgpuhal.Extent3D{
					Width:              o.img.extent.Width,
					Height:             o.img.extent.Height,
					DepthOrArrayLayers: 1,
				},
			}})
		case opBarrier:
			closePass()
		}
	}
	closePass()

	encoded, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	c.encoded = encoded
	c.hasCoded = true
	return encoded, nil
}
