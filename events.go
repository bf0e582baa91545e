package rend

import (
	"fmt"

	"github.com/gogpu/rend/hal"
)

// Event is a window system event the engine reacts to. The windowing
// collaborator translates its native events into these and feeds them
// through Engine.Apply.
type Event interface {
	isEvent()
}

// Resized reports a new surface extent. A zero extent means the window is
// minimized; rendering resumes when a non-zero extent arrives.
type Resized struct {
	Extent hal.Extent
}

// CloseRequested asks the engine to shut down.
type CloseRequested struct{}

// SurfaceLost reports that the native surface is gone for good.
type SurfaceLost struct{}

func (Resized) isEvent()        {}
func (CloseRequested) isEvent() {}
func (SurfaceLost) isEvent()    {}

// Apply reacts to one window event. Resized marks the swapchain for
// rebuild, CloseRequested shuts the engine down and SurfaceLost latches it
// with hal.ErrSurfaceLost.
func (e *Engine) Apply(ev Event) error {
	switch ev := ev.(type) {
	case Resized:
		e.NotifyResize(ev.Extent)
		return nil
	case CloseRequested:
		e.Shutdown()
		return nil
	case SurfaceLost:
		e.latch(hal.ErrSurfaceLost)
		e.Shutdown()
		return nil
	default:
		return fmt.Errorf("rend: unknown event %T: %w", ev, hal.ErrInvalidUsage)
	}
}
