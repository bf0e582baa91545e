package resource

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/rend/alloc"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/hal/halmock"
)

func newTestManager(t *testing.T) (*Manager, *halmock.Device) {
	t.Helper()
	dev := halmock.NewDevice(halmock.DefaultAdapter())
	a, err := alloc.New(alloc.Config{Device: dev})
	if err != nil {
		t.Fatalf("alloc.New: %v", err)
	}
	m, err := New(Config{Device: dev, Allocator: a})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, dev
}

func TestCreateAndLookupBuffer(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateBuffer(BufferDesc{
		Size:     1024,
		Usage:    hal.BufferUsageVertex,
		Locality: hal.LocalityDevice,
		Label:    "quad-vertices",
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if h.Kind() != KindBuffer {
		t.Errorf("kind = %v, want buffer", h.Kind())
	}

	buf, err := m.Buffer(h)
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if buf.Size() != 1024 {
		t.Errorf("buffer size = %d, want 1024", buf.Size())
	}
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.CreateBuffer(BufferDesc{Size: 0, Usage: hal.BufferUsageVertex}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("zero-size buffer err = %v, want ErrInvalidUsage", err)
	}
	if _, err := m.CreateBuffer(BufferDesc{Size: 64}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("no-usage buffer err = %v, want ErrInvalidUsage", err)
	}
	if _, err := m.CreateImage(ImageDesc{Format: hal.FormatRGBA8Unorm, Usage: hal.ImageUsageSampled}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("zero-extent image err = %v, want ErrInvalidUsage", err)
	}
	if _, err := m.CreatePipeline(hal.PipelineDescriptor{}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("empty pipeline err = %v, want ErrInvalidUsage", err)
	}
}

func TestKindMismatch(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateBuffer(BufferDesc{Size: 64, Usage: hal.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := m.Image(h); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("buffer handle as image err = %v, want ErrInvalidUsage", err)
	}
}

func TestStaleHandleAfterDestroy(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateBuffer(BufferDesc{Size: 64, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := m.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := m.Buffer(h); !errors.Is(err, hal.ErrStaleHandle) {
		t.Errorf("Buffer after destroy err = %v, want ErrStaleHandle", err)
	}
	if err := m.Destroy(h); !errors.Is(err, hal.ErrStaleHandle) {
		t.Errorf("double Destroy err = %v, want ErrStaleHandle", err)
	}
	if err := m.MarkUsed(h, 1); !errors.Is(err, hal.ErrStaleHandle) {
		t.Errorf("MarkUsed after destroy err = %v, want ErrStaleHandle", err)
	}
}

func TestStaleHandleNeverAliasesReusedSlot(t *testing.T) {
	m, _ := newTestManager(t)

	old, err := m.CreateBuffer(BufferDesc{Size: 64, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := m.Destroy(old); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	fresh, err := m.CreateBuffer(BufferDesc{Size: 128, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := m.Buffer(old); !errors.Is(err, hal.ErrStaleHandle) {
		t.Errorf("stale handle resolved against reused slot: err = %v", err)
	}
	if buf, err := m.Buffer(fresh); err != nil || buf.Size() != 128 {
		t.Errorf("fresh handle broken by stale access: buf=%v err=%v", buf, err)
	}
}

func TestDeferredReleaseWaitsForLastUse(t *testing.T) {
	m, dev := newTestManager(t)

	h, err := m.CreateBuffer(BufferDesc{Size: 64, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := m.MarkUsed(h, 5); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := m.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// Frames up to 4 complete: the buffer must stay alive on the device.
	if n := m.Collect(4); n != 0 {
		t.Errorf("Collect(4) released %d, want 0", n)
	}
	if buffers, _, _ := dev.LiveObjects(); buffers != 1 {
		t.Errorf("backend buffer released before frame 5 completed")
	}

	// Frame 5 completes: now it goes.
	if n := m.Collect(5); n != 1 {
		t.Errorf("Collect(5) released %d, want 1", n)
	}
	if buffers, _, _ := dev.LiveObjects(); buffers != 0 {
		t.Errorf("backend buffer still live after Collect(5)")
	}
	if dev.LiveAllocations() != 0 {
		t.Errorf("backing memory leaked: %d live allocations", dev.LiveAllocations())
	}
}

func TestDestroyNeverUsedReleasesOnNextCollect(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreatePipeline(hal.PipelineDescriptor{VertexSource: "@vertex fn vs() {}"})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if err := m.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if n := m.Collect(0); n != 1 {
		t.Errorf("Collect(0) released %d, want 1", n)
	}
}

func TestWriteBuffer(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateBuffer(BufferDesc{
		Size: 16, Usage: hal.BufferUsageUniform, Locality: hal.LocalityHost,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := m.WriteBuffer(h, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := m.WriteBuffer(h, 14, []byte{1, 2, 3}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("out-of-bounds write err = %v, want ErrInvalidUsage", err)
	}

	deviceLocal, err := m.CreateBuffer(BufferDesc{Size: 16, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := m.WriteBuffer(deviceLocal, 0, []byte{1}); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("device-local write err = %v, want ErrInvalidUsage", err)
	}
}

func TestUploadImage(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateImage(ImageDesc{
		Extent: hal.Extent{Width: 2, Height: 2},
		Format: hal.FormatRGBA8Unorm,
		Usage:  hal.ImageUsageSampled | hal.ImageUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}

	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	staging, err := m.UploadImage(h, src)
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if staging.Kind() != KindBuffer {
		t.Fatalf("staging kind = %v, want buffer", staging.Kind())
	}
	buf, err := m.Buffer(staging)
	if err != nil {
		t.Fatalf("staging Buffer: %v", err)
	}
	if buf.Size() != 16 {
		t.Errorf("staging size = %d, want 16 for 2x2 RGBA", buf.Size())
	}
}

func TestUploadImageScalesToExtent(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateImage(ImageDesc{
		Extent: hal.Extent{Width: 4, Height: 4},
		Format: hal.FormatBGRA8Unorm,
		Usage:  hal.ImageUsageSampled | hal.ImageUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}

	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	staging, err := m.UploadImage(h, src)
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	buf, err := m.Buffer(staging)
	if err != nil {
		t.Fatalf("staging Buffer: %v", err)
	}
	if buf.Size() != 64 {
		t.Errorf("staging size = %d, want 64 for 4x4 BGRA", buf.Size())
	}
}

func TestUploadImageRejectsFloatFormats(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.CreateImage(ImageDesc{
		Extent: hal.Extent{Width: 2, Height: 2},
		Format: hal.FormatRGBA32Float,
		Usage:  hal.ImageUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if _, err := m.UploadImage(h, image.NewRGBA(image.Rect(0, 0, 2, 2))); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("float upload err = %v, want ErrInvalidUsage", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	m, dev := newTestManager(t)

	if _, err := m.CreateBuffer(BufferDesc{Size: 64, Usage: hal.BufferUsageVertex}); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	h, err := m.CreateImage(ImageDesc{
		Extent: hal.Extent{Width: 2, Height: 2},
		Format: hal.FormatRGBA8Unorm,
		Usage:  hal.ImageUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if err := m.MarkUsed(h, 9); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := m.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	m.Close()
	buffers, images, pipelines := dev.LiveObjects()
	if buffers != 0 || images != 0 || pipelines != 0 {
		t.Errorf("live objects after Close: %d buffers, %d images, %d pipelines", buffers, images, pipelines)
	}
	if dev.LiveAllocations() != 0 {
		t.Errorf("backing memory leaked: %d live allocations", dev.LiveAllocations())
	}
}
