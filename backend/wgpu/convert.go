package wgpu

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rend/hal"
)

func bufferUsage(u hal.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&hal.BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&hal.BufferUsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&hal.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&hal.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&hal.BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&hal.BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	return out
}

func textureUsage(u hal.ImageUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&hal.ImageUsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&(hal.ImageUsageColorAttachment|hal.ImageUsageDepthAttachment) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&hal.ImageUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&hal.ImageUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}

func textureFormat(f hal.Format) gputypes.TextureFormat {
	switch f {
	case hal.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case hal.FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case hal.FormatBGRA8SRGB:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case hal.FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	case hal.FormatDepth32Float:
		return gputypes.TextureFormatDepth32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

func vertexFormat(f hal.Format) gputypes.VertexFormat {
	switch f {
	case hal.FormatRG32Float:
		return gputypes.VertexFormatFloat32x2
	case hal.FormatRGBA32Float:
		return gputypes.VertexFormatFloat32x4
	case hal.FormatRGBA8Unorm, hal.FormatBGRA8Unorm:
		return gputypes.VertexFormatUnorm8x4
	default:
		return gputypes.VertexFormatFloat32
	}
}
