package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/rend/alloc"
	"github.com/gogpu/rend/device"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/hal/halmock"
	"github.com/gogpu/rend/record"
	"github.com/gogpu/rend/resource"
	"github.com/gogpu/rend/swapchain"
)

type fixture struct {
	dev   *halmock.Device
	ctx   *device.Context
	res   *resource.Manager
	chain *swapchain.Manager
	sched *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	backend := halmock.NewBackend()
	ctx, err := device.New(device.Config{Backend: backend})
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	t.Cleanup(ctx.Close)

	a, err := alloc.New(alloc.Config{Device: ctx.Device()})
	if err != nil {
		t.Fatalf("alloc.New: %v", err)
	}
	res, err := resource.New(resource.Config{Device: ctx.Device(), Allocator: a})
	if err != nil {
		t.Fatalf("resource.New: %v", err)
	}
	chain, err := swapchain.New(swapchain.Config{
		Context: ctx,
		Extent:  hal.Extent{Width: 640, Height: 480},
	})
	if err != nil {
		t.Fatalf("swapchain.New: %v", err)
	}
	t.Cleanup(chain.Destroy)

	cfg.Context = ctx
	cfg.Swapchain = chain
	cfg.Resources = res
	sched, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sched.Destroy)

	return &fixture{
		dev:   ctx.Device().(*halmock.Device),
		ctx:   ctx,
		res:   res,
		chain: chain,
		sched: sched,
	}
}

func noRecord(s *record.Session, imageIndex uint32) error { return nil }

func TestConfigClamping(t *testing.T) {
	f := newFixture(t, Config{})
	if got := f.sched.FramesInFlight(); got != DefaultFramesInFlight {
		t.Errorf("default ring size = %d, want %d", got, DefaultFramesInFlight)
	}

	f = newFixture(t, Config{FramesInFlight: 99})
	if got := f.sched.FramesInFlight(); got != MaxFramesInFlight {
		t.Errorf("oversized ring clamped to %d, want %d", got, MaxFramesInFlight)
	}

	f = newFixture(t, Config{FramesInFlight: -3})
	if got := f.sched.FramesInFlight(); got != 1 {
		t.Errorf("negative ring clamped to %d, want 1", got)
	}
}

func TestFiveFrameCycle(t *testing.T) {
	f := newFixture(t, Config{FramesInFlight: 2})

	for i := 1; i <= 5; i++ {
		if err := f.sched.Cycle(noRecord); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if got := f.sched.Sequence(); got != uint64(i) {
			t.Fatalf("after cycle %d sequence = %d", i, got)
		}
	}

	if got := f.dev.PresentCount(); got != 5 {
		t.Errorf("presented %d frames, want 5", got)
	}
	// With two slots, frame N's submission waits on frame N-2: after five
	// frames at least frame 3 must be known complete.
	if got := f.sched.Completed(); got < 3 {
		t.Errorf("completed watermark = %d, want >= 3", got)
	}
	if got := f.sched.InFlight(); got > 2 {
		t.Errorf("in-flight = %d, want <= ring size 2", got)
	}
}

func TestRecordedCommandsReachSubmission(t *testing.T) {
	f := newFixture(t, Config{})

	pipe, err := f.res.CreatePipeline(hal.PipelineDescriptor{VertexSource: "@vertex fn vs() {}"})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	verts, err := f.res.CreateBuffer(resource.BufferDesc{Size: 256, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	err = f.sched.Cycle(func(s *record.Session, imageIndex uint32) error {
		if err := s.BindPipeline(pipe); err != nil {
			return err
		}
		if err := s.BindVertexBuffer(verts); err != nil {
			return err
		}
		return s.Draw(3, 1)
	})
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if f.dev.SubmitCount() != 1 {
		t.Errorf("submit count = %d, want 1", f.dev.SubmitCount())
	}
}

func TestFailedAcquireDoesNotConsumeSequence(t *testing.T) {
	f := newFixture(t, Config{})

	// Make the surface unrenderable: minimized window.
	f.chain.NotifyResize(hal.Extent{})
	err := f.sched.Cycle(noRecord)
	if !errors.Is(err, hal.ErrSurfaceOutOfDate) {
		t.Fatalf("minimized cycle err = %v, want ErrSurfaceOutOfDate", err)
	}
	if got := f.sched.Sequence(); got != 0 {
		t.Fatalf("failed acquire consumed sequence: %d", got)
	}
	if f.dev.SubmitCount() != 0 {
		t.Errorf("failed acquire submitted work")
	}

	// Restore: next cycle is frame 1, not frame 2.
	f.chain.NotifyResize(hal.Extent{Width: 640, Height: 480})
	if err := f.sched.Cycle(noRecord); err != nil {
		t.Fatalf("cycle after restore: %v", err)
	}
	if got := f.sched.Sequence(); got != 1 {
		t.Errorf("sequence after recovery = %d, want 1", got)
	}
}

func TestOutOfDateAcquireIsInvisible(t *testing.T) {
	f := newFixture(t, Config{})

	f.dev.InjectAcquireError(hal.ErrSurfaceOutOfDate)
	if err := f.sched.Cycle(noRecord); err != nil {
		t.Fatalf("cycle over out-of-date chain: %v", err)
	}
	if f.chain.Rebuilds() != 1 {
		t.Errorf("rebuilds = %d, want 1", f.chain.Rebuilds())
	}
	if got := f.sched.Sequence(); got != 1 {
		t.Errorf("sequence = %d, want 1", got)
	}
}

func TestSlotWaitTimeoutIsDeviceLoss(t *testing.T) {
	f := newFixture(t, Config{FramesInFlight: 2, SlotWaitTimeout: 10 * time.Millisecond})

	// Frames never complete: the GPU has hung.
	f.dev.SetAutoComplete(false)

	for i := 1; i <= 2; i++ {
		if err := f.sched.Cycle(noRecord); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	// Frame 3 reuses slot 0, whose fence will never signal.
	err := f.sched.Cycle(noRecord)
	if !errors.Is(err, hal.ErrDeviceLost) {
		t.Fatalf("hung slot wait err = %v, want ErrDeviceLost", err)
	}
}

func TestManualCompletionReleasesSlots(t *testing.T) {
	f := newFixture(t, Config{FramesInFlight: 2})
	f.dev.SetAutoComplete(false)

	for i := 1; i <= 2; i++ {
		if err := f.sched.Cycle(noRecord); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if got := f.sched.InFlight(); got != 2 {
		t.Fatalf("in-flight = %d, want 2", got)
	}

	// GPU finishes frame 1; slot 0 frees up and frame 3 proceeds.
	if !f.dev.CompleteNextSubmit() {
		t.Fatal("no pending submission to complete")
	}
	if err := f.sched.Cycle(noRecord); err != nil {
		t.Fatalf("cycle 3 after completion: %v", err)
	}
	if got := f.sched.Completed(); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

func TestDeferredReleaseAcrossFrames(t *testing.T) {
	f := newFixture(t, Config{FramesInFlight: 2})

	verts, err := f.res.CreateBuffer(resource.BufferDesc{Size: 64, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	// Frame 1 uses the buffer; it is destroyed right after.
	err = f.sched.Cycle(func(s *record.Session, imageIndex uint32) error {
		return s.BindVertexBuffer(verts)
	})
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if err := f.res.Destroy(verts); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// The handle dies immediately but the backend object survives until
	// frame 1 is known complete.
	if f.res.Alive(verts) {
		t.Error("handle alive after Destroy")
	}
	if f.res.PendingReleases() != 1 {
		t.Fatalf("pending releases = %d, want 1", f.res.PendingReleases())
	}

	// Cycling until slot 0 is rewaited retires frame 1 and collects.
	for i := 2; i <= 3; i++ {
		if err := f.sched.Cycle(noRecord); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if f.res.PendingReleases() != 0 {
		t.Errorf("pending releases = %d after frame 1 completed, want 0", f.res.PendingReleases())
	}
}

func TestRecordFailureAbortsFrame(t *testing.T) {
	f := newFixture(t, Config{})

	stale, err := f.res.CreateBuffer(resource.BufferDesc{Size: 64, Usage: hal.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := f.res.Destroy(stale); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	err = f.sched.Cycle(func(s *record.Session, imageIndex uint32) error {
		return s.BindVertexBuffer(stale)
	})
	if !errors.Is(err, hal.ErrInvalidResourceReference) {
		t.Fatalf("cycle err = %v, want ErrInvalidResourceReference", err)
	}
	if f.dev.SubmitCount() != 0 {
		t.Error("aborted frame reached submission")
	}

	// The slot is reusable: the next frame goes through.
	if err := f.sched.Cycle(noRecord); err != nil {
		t.Fatalf("cycle after aborted frame: %v", err)
	}
}

func TestDeviceLossLatchesSubmission(t *testing.T) {
	f := newFixture(t, Config{})

	f.dev.InjectSubmitError(hal.ErrDeviceLost)
	err := f.sched.Cycle(noRecord)
	if !errors.Is(err, hal.ErrDeviceLost) {
		t.Fatalf("cycle err = %v, want ErrDeviceLost", err)
	}
	if !f.ctx.Lost() {
		t.Error("device context latch not tripped")
	}
}

func TestDrainRetiresEverything(t *testing.T) {
	f := newFixture(t, Config{FramesInFlight: 2})

	for i := 1; i <= 2; i++ {
		if err := f.sched.Cycle(noRecord); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if err := f.sched.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := f.sched.InFlight(); got != 0 {
		t.Errorf("in-flight after drain = %d, want 0", got)
	}
	if got := f.sched.Completed(); got != 2 {
		t.Errorf("completed after drain = %d, want 2", got)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.sched.Cycle(noRecord); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	f.sched.Destroy()
	f.sched.Destroy()
	if err := f.sched.Cycle(noRecord); !errors.Is(err, hal.ErrInvalidUsage) {
		t.Errorf("cycle after destroy err = %v, want ErrInvalidUsage", err)
	}
}
