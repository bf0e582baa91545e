package wgpu

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rend/hal"
)

func TestBufferUsageMapping(t *testing.T) {
	u := bufferUsage(hal.BufferUsageVertex | hal.BufferUsageCopyDst)
	if u&gputypes.BufferUsageVertex == 0 {
		t.Error("vertex usage not mapped")
	}
	if u&gputypes.BufferUsageCopyDst == 0 {
		t.Error("copy-dst usage not mapped")
	}
	if u&gputypes.BufferUsageUniform != 0 {
		t.Error("uniform usage mapped without being requested")
	}
}

func TestTextureFormatMapping(t *testing.T) {
	tests := []struct {
		in   hal.Format
		want gputypes.TextureFormat
	}{
		{hal.FormatRGBA8Unorm, gputypes.TextureFormatRGBA8Unorm},
		{hal.FormatBGRA8Unorm, gputypes.TextureFormatBGRA8Unorm},
		{hal.FormatBGRA8SRGB, gputypes.TextureFormatBGRA8UnormSrgb},
		{hal.FormatR8Unorm, gputypes.TextureFormatR8Unorm},
		{hal.FormatDepth32Float, gputypes.TextureFormatDepth32Float},
	}
	for _, tt := range tests {
		if got := textureFormat(tt.in); got != tt.want {
			t.Errorf("textureFormat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVertexFormatMapping(t *testing.T) {
	if got := vertexFormat(hal.FormatRG32Float); got != gputypes.VertexFormatFloat32x2 {
		t.Errorf("RG32Float = %v, want Float32x2", got)
	}
	if got := vertexFormat(hal.FormatRGBA32Float); got != gputypes.VertexFormatFloat32x4 {
		t.Errorf("RGBA32Float = %v, want Float32x4", got)
	}
}
