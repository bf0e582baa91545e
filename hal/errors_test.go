package hal

import (
	"fmt"
	"testing"
)

func TestErrorClasses(t *testing.T) {
	transient := []error{ErrSurfaceOutOfDate, ErrSurfaceSuboptimal, ErrTimeout}
	resource := []error{ErrOutOfDeviceMemory, ErrOutOfHostMemory, ErrInvalidUsage, ErrStaleHandle, ErrInvalidResourceReference}
	fatal := []error{ErrDeviceLost, ErrSurfaceLost, ErrNoSuitableDevice}

	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false", err)
		}
		if IsResource(err) || IsFatal(err) {
			t.Errorf("%v classified in more than one class", err)
		}
	}
	for _, err := range resource {
		if !IsResource(err) {
			t.Errorf("IsResource(%v) = false", err)
		}
		if IsTransient(err) || IsFatal(err) {
			t.Errorf("%v classified in more than one class", err)
		}
	}
	for _, err := range fatal {
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false", err)
		}
		if IsTransient(err) || IsResource(err) {
			t.Errorf("%v classified in more than one class", err)
		}
	}
}

func TestErrorClassesWrapped(t *testing.T) {
	wrapped := fmt.Errorf("swapchain: acquire image: %w", ErrSurfaceOutOfDate)
	if !IsTransient(wrapped) {
		t.Errorf("IsTransient(wrapped) = false")
	}

	wrapped = fmt.Errorf("device: submit frame 42: %w", ErrDeviceLost)
	if !IsFatal(wrapped) {
		t.Errorf("IsFatal(wrapped) = false")
	}
}

func TestExtent(t *testing.T) {
	if (Extent{Width: 800, Height: 600}).IsZero() {
		t.Error("800x600 reported zero")
	}
	if !(Extent{Width: 0, Height: 600}).IsZero() {
		t.Error("0x600 not reported zero")
	}
	if got := (Extent{Width: 1920, Height: 1080}).String(); got != "1920x1080" {
		t.Errorf("String() = %q", got)
	}
}

func TestQueueCapsHas(t *testing.T) {
	caps := CapGraphics | CapCompute | CapTransfer
	if !caps.Has(CapGraphics | CapCompute) {
		t.Error("combined caps not matched")
	}
	if caps.Has(CapPresent) {
		t.Error("missing cap reported present")
	}
}
