package swapchain

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/rend/device"
	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/hal/halmock"
)

func newTestManager(t *testing.T) (*Manager, *halmock.Device, *device.Context) {
	t.Helper()
	backend := halmock.NewBackend()
	ctx, err := device.New(device.Config{Backend: backend})
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	t.Cleanup(ctx.Close)

	m, err := New(Config{Context: ctx, Extent: hal.Extent{Width: 800, Height: 600}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Destroy)
	return m, ctx.Device().(*halmock.Device), ctx
}

func TestAcquirePresentRoundTrip(t *testing.T) {
	m, dev, _ := newTestManager(t)

	sem, _ := dev.CreateSemaphore()
	idx, err := m.Acquire(sem, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if int(idx) >= m.ImageCount() {
		t.Fatalf("image index %d out of range", idx)
	}
	if err := m.Present(idx, sem); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if m.State() != StateValid {
		t.Errorf("state = %v, want valid", m.State())
	}
}

func TestAcquireRebuildsOutOfDateChain(t *testing.T) {
	m, dev, _ := newTestManager(t)

	dev.InjectAcquireError(hal.ErrSurfaceOutOfDate)
	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Second); err != nil {
		t.Fatalf("Acquire did not recover from out-of-date: %v", err)
	}
	if m.Rebuilds() != 1 {
		t.Errorf("rebuilds = %d, want 1", m.Rebuilds())
	}
	if m.State() != StateValid {
		t.Errorf("state = %v, want valid after recovery", m.State())
	}
}

func TestAcquireTimeoutSurfaces(t *testing.T) {
	m, dev, _ := newTestManager(t)

	dev.InjectAcquireError(hal.ErrTimeout)
	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Millisecond); !errors.Is(err, hal.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if m.Rebuilds() != 0 {
		t.Errorf("timeout triggered %d rebuilds, want 0", m.Rebuilds())
	}
}

func TestPresentSuboptimalIsSoftSignal(t *testing.T) {
	m, dev, _ := newTestManager(t)

	sem, _ := dev.CreateSemaphore()
	idx, err := m.Acquire(sem, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	dev.InjectPresentError(hal.ErrSurfaceSuboptimal)
	if err := m.Present(idx, sem); err != nil {
		t.Fatalf("suboptimal present reported failure: %v", err)
	}
	if m.State() != StateOutOfDate {
		t.Errorf("state = %v, want out-of-date after suboptimal present", m.State())
	}

	// Next acquire rebuilds.
	if _, err := m.Acquire(sem, time.Second); err != nil {
		t.Fatalf("Acquire after suboptimal: %v", err)
	}
	if m.Rebuilds() != 1 {
		t.Errorf("rebuilds = %d, want 1", m.Rebuilds())
	}
}

func TestNotifyResizeRebuildsAtNewExtent(t *testing.T) {
	m, dev, _ := newTestManager(t)

	m.NotifyResize(hal.Extent{Width: 1920, Height: 1080})
	if m.State() != StateOutOfDate {
		t.Fatalf("state = %v, want out-of-date after resize", m.State())
	}

	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Second); err != nil {
		t.Fatalf("Acquire after resize: %v", err)
	}
	if got := m.Extent(); got != (hal.Extent{Width: 1920, Height: 1080}) {
		t.Errorf("extent = %s, want 1920x1080", got)
	}
}

func TestMinimizedSurfaceFailsAcquire(t *testing.T) {
	m, dev, _ := newTestManager(t)

	m.NotifyResize(hal.Extent{})
	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Second); !errors.Is(err, hal.ErrSurfaceOutOfDate) {
		t.Fatalf("minimized acquire err = %v, want ErrSurfaceOutOfDate", err)
	}

	// Restore and recover.
	m.NotifyResize(hal.Extent{Width: 640, Height: 480})
	if _, err := m.Acquire(sem, time.Second); err != nil {
		t.Fatalf("Acquire after restore: %v", err)
	}
}

func TestRebuildKeepsAllocationCountStable(t *testing.T) {
	m, dev, _ := newTestManager(t)

	before := dev.LiveAllocations()
	for i := 0; i < 5; i++ {
		if err := m.Rebuild(); err != nil {
			t.Fatalf("Rebuild %d: %v", i, err)
		}
	}
	if after := dev.LiveAllocations(); after != before {
		t.Errorf("live allocations %d -> %d across rebuilds, want stable", before, after)
	}
}

func TestDestroyReleasesImages(t *testing.T) {
	m, dev, _ := newTestManager(t)

	m.Destroy()
	if dev.LiveAllocations() != 0 {
		t.Errorf("%d image allocations live after Destroy", dev.LiveAllocations())
	}
	if m.State() != StateDestroyed {
		t.Errorf("state = %v, want destroyed", m.State())
	}

	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Second); !errors.Is(err, hal.ErrSurfaceLost) {
		t.Errorf("acquire on destroyed chain err = %v, want ErrSurfaceLost", err)
	}
	if err := m.Present(0, sem); !errors.Is(err, hal.ErrSurfaceLost) {
		t.Errorf("present on destroyed chain err = %v, want ErrSurfaceLost", err)
	}

	// Idempotent.
	m.Destroy()
}

func TestDeviceLostSurfacesFromAcquire(t *testing.T) {
	m, dev, _ := newTestManager(t)

	dev.InjectAcquireError(hal.ErrDeviceLost)
	sem, _ := dev.CreateSemaphore()
	if _, err := m.Acquire(sem, time.Second); !errors.Is(err, hal.ErrDeviceLost) {
		t.Fatalf("err = %v, want ErrDeviceLost", err)
	}
}
