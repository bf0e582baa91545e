package rend

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/rend/backend"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/hal/halmock"
	"github.com/gogpu/rend/resource"
)

// captureBackend remembers the device it opened so tests can reach the
// mock's inspection and fault-injection hooks.
type captureBackend struct {
	*halmock.Backend
	dev *halmock.Device
}

func (c *captureBackend) Open(adapterIndex int) (hal.Device, error) {
	d, err := c.Backend.Open(adapterIndex)
	if err == nil {
		c.dev = d.(*halmock.Device)
	}
	return d, err
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *captureBackend) {
	t.Helper()
	cb := &captureBackend{Backend: halmock.NewBackend()}
	backend.Register(backend.BackendMock, func() hal.Backend { return cb })
	t.Cleanup(func() { backend.Unregister(backend.BackendMock) })

	cfg.Backend = backend.BackendMock
	eng, err := Initialize(hal.Surface{Handle: 1}, hal.Extent{Width: 800, Height: 600}, cfg)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(eng.Shutdown)
	return eng, cb
}

const testVS = `@vertex fn vs_main(@location(0) pos: vec2f) -> @builtin(position) vec4f { return vec4f(pos, 0.0, 1.0); }`
const testFS = `@fragment fn fs_main() -> @location(0) vec4f { return vec4f(1.0); }`

func testPipeline(t *testing.T, eng *Engine) resource.Handle {
	t.Helper()
	h, err := eng.CreatePipeline(hal.PipelineDescriptor{
		VertexSource:   testVS,
		FragmentSource: testFS,
		Vertex: hal.VertexLayout{
			Stride: 8,
			Attributes: []hal.VertexAttribute{
				{Location: 0, Format: hal.FormatRG32Float, Offset: 0},
			},
		},
		ColorFormat: hal.FormatBGRA8Unorm,
		Label:       "test",
	})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	return h
}

func TestInitializeRequiresBackend(t *testing.T) {
	_, err := Initialize(hal.Surface{}, hal.Extent{Width: 1, Height: 1}, Config{
		Backend: "no-such-backend",
	})
	if !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Fatalf("err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRenderFrames(t *testing.T) {
	eng, cb := newTestEngine(t, Config{})

	pipe := testPipeline(t, eng)
	verts, err := eng.CreateVertexBuffer(make([]byte, 48), hal.VertexLayout{Stride: 8})
	if err != nil {
		t.Fatalf("CreateVertexBuffer: %v", err)
	}
	uni, err := eng.CreateUniformBuffer(64)
	if err != nil {
		t.Fatalf("CreateUniformBuffer: %v", err)
	}
	if err := eng.WriteUniform(uni, 0, make([]byte, 64)); err != nil {
		t.Fatalf("WriteUniform: %v", err)
	}

	dl := NewDrawList()
	dl.Add(Draw{
		Pipeline:    pipe,
		Vertices:    verts,
		Uniforms:    []UniformBinding{{Buffer: uni, Slot: 0}},
		VertexCount: 6,
	})

	for i := 0; i < 3; i++ {
		if err := eng.RenderFrame(dl); err != nil {
			t.Fatalf("RenderFrame %d: %v", i, err)
		}
	}
	if got := cb.dev.PresentCount(); got != 3 {
		t.Errorf("PresentCount = %d, want 3", got)
	}
}

func TestVertexBufferValidation(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	if _, err := eng.CreateVertexBuffer(nil, hal.VertexLayout{Stride: 8}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("empty data err = %v, want ErrInvalidUsage", err)
	}
	if _, err := eng.CreateVertexBuffer(make([]byte, 10), hal.VertexLayout{Stride: 8}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("misaligned data err = %v, want ErrInvalidUsage", err)
	}
}

func TestRenderFrameStaleHandleDoesNotLatch(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	pipe := testPipeline(t, eng)
	verts, err := eng.CreateVertexBuffer(make([]byte, 16), hal.VertexLayout{Stride: 8})
	if err != nil {
		t.Fatalf("CreateVertexBuffer: %v", err)
	}
	if err := eng.DestroyResource(verts); err != nil {
		t.Fatalf("DestroyResource: %v", err)
	}

	dl := NewDrawList()
	dl.Add(Draw{Pipeline: pipe, Vertices: verts, VertexCount: 3})

	if err := eng.RenderFrame(dl); !errors.Is(err, hal.ErrInvalidResourceReference) {
		t.Fatalf("stale draw err = %v, want ErrInvalidResourceReference", err)
	}
	// A resource error is not fatal; an empty frame still renders.
	if err := eng.RenderFrame(NewDrawList()); err != nil {
		t.Fatalf("RenderFrame after resource error: %v", err)
	}
}

func TestTextureUploadRecordedIntoNextFrame(t *testing.T) {
	eng, cb := newTestEngine(t, Config{})

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	tex, err := eng.CreateTexture(src, hal.FormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	live := eng.Resources().Live()

	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	// The staging buffer was destroyed after recording; once enough frames
	// complete it is collected and only the texture remains.
	for i := 0; i < 4; i++ {
		if err := eng.RenderFrame(nil); err != nil {
			t.Fatalf("RenderFrame %d: %v", i, err)
		}
	}
	if got := eng.Resources().Live(); got != live-1 {
		t.Errorf("Live = %d, want %d after staging collected", got, live-1)
	}
	if !eng.Resources().Alive(tex) {
		t.Error("texture handle should remain alive")
	}
	_ = cb
}

func TestUploadSurvivesSkippedFrame(t *testing.T) {
	eng, cb := newTestEngine(t, Config{})

	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	tex, err := eng.CreateTexture(src, hal.FormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	liveBefore := eng.Resources().Live()

	// Minimize before the upload had a chance to record.
	if err := eng.Apply(Resized{Extent: hal.Extent{}}); err != nil {
		t.Fatalf("Apply(Resized zero): %v", err)
	}
	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("minimized RenderFrame: %v", err)
	}
	if got := cb.dev.SubmitCount(); got != 0 {
		t.Fatalf("SubmitCount = %d, want 0 for skipped frame", got)
	}

	// The skipped frame must not consume the upload or its staging buffer.
	eng.mu.Lock()
	queued := len(eng.uploads)
	eng.mu.Unlock()
	if queued != 1 {
		t.Fatalf("queued uploads = %d, want 1 after skipped frame", queued)
	}
	if got := eng.Resources().PendingReleases(); got != 0 {
		t.Errorf("PendingReleases = %d, want 0 while upload is queued", got)
	}
	if got := eng.Resources().Live(); got != liveBefore {
		t.Errorf("Live = %d, want %d while upload is queued", got, liveBefore)
	}

	// Restore: the next frame carries the copy.
	if err := eng.Apply(Resized{Extent: hal.Extent{Width: 640, Height: 480}}); err != nil {
		t.Fatalf("Apply(Resized): %v", err)
	}
	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("RenderFrame after restore: %v", err)
	}
	if got := cb.dev.SubmitCount(); got != 1 {
		t.Errorf("SubmitCount = %d, want 1 after restore", got)
	}
	eng.mu.Lock()
	queued = len(eng.uploads)
	eng.mu.Unlock()
	if queued != 0 {
		t.Errorf("queued uploads = %d, want 0 after recorded frame", queued)
	}

	// Staging retires once frames complete; the texture stays alive.
	for i := 0; i < 4; i++ {
		if err := eng.RenderFrame(nil); err != nil {
			t.Fatalf("RenderFrame %d: %v", i, err)
		}
	}
	if got := eng.Resources().Live(); got != liveBefore-1 {
		t.Errorf("Live = %d, want %d after staging collected", got, liveBefore-1)
	}
	if !eng.Resources().Alive(tex) {
		t.Error("texture handle should remain alive")
	}
}

func TestMinimizedFramesAbsorbed(t *testing.T) {
	eng, cb := newTestEngine(t, Config{})

	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if err := eng.Apply(Resized{Extent: hal.Extent{}}); err != nil {
		t.Fatalf("Apply(Resized zero): %v", err)
	}
	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("minimized RenderFrame should absorb: %v", err)
	}
	if got := cb.dev.PresentCount(); got != 1 {
		t.Errorf("PresentCount = %d, want 1 while minimized", got)
	}

	if err := eng.Apply(Resized{Extent: hal.Extent{Width: 640, Height: 480}}); err != nil {
		t.Fatalf("Apply(Resized): %v", err)
	}
	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("RenderFrame after restore: %v", err)
	}
	if got := cb.dev.PresentCount(); got != 2 {
		t.Errorf("PresentCount = %d, want 2 after restore", got)
	}
}

func TestDeviceLossLatchesEngine(t *testing.T) {
	eng, cb := newTestEngine(t, Config{})

	if err := eng.RenderFrame(nil); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	cb.dev.Lose()

	err := eng.RenderFrame(nil)
	if !errors.Is(err, ErrEngineDown) {
		t.Fatalf("err after loss = %v, want ErrEngineDown", err)
	}
	if !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("err should wrap the device-lost cause, got %v", err)
	}

	// Everything fails fast now, with the original cause preserved.
	if _, err := eng.CreateUniformBuffer(16); !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("CreateUniformBuffer err = %v, want wrapped ErrDeviceLost", err)
	}
}

func TestApplySurfaceLost(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	if err := eng.Apply(SurfaceLost{}); err != nil {
		t.Fatalf("Apply(SurfaceLost): %v", err)
	}
	err := eng.RenderFrame(nil)
	if !errors.Is(err, ErrEngineDown) || !errors.Is(err, hal.ErrSurfaceLost) {
		t.Fatalf("err = %v, want ErrEngineDown wrapping ErrSurfaceLost", err)
	}
}

func TestApplyCloseRequested(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	if err := eng.Apply(CloseRequested{}); err != nil {
		t.Fatalf("Apply(CloseRequested): %v", err)
	}
	if err := eng.RenderFrame(nil); !errors.Is(err, ErrEngineDown) {
		t.Fatalf("err after close = %v, want ErrEngineDown", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	eng.Shutdown()
	eng.Shutdown()
}
