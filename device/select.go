package device

import (
	"fmt"

	"github.com/gogpu/rend/hal"
)

// requirements are the adapter capabilities New insists on.
type requirements struct {
	present bool
}

// suitable reports whether the adapter can serve the engine: it must expose
// a graphics-capable family and, when presentation is required, a family
// that can present to the target surface.
func suitable(info hal.AdapterInfo, req requirements) bool {
	var caps hal.QueueCaps
	for _, f := range info.Families {
		caps |= f.Caps
	}
	if !caps.Has(hal.CapGraphics) {
		return false
	}
	if req.present && !caps.Has(hal.CapPresent) {
		return false
	}
	return true
}

// selectAdapter picks the best suitable adapter: discrete beats everything
// else, ties break on the largest device-local heap, remaining ties keep
// enumeration order.
func selectAdapter(infos []hal.AdapterInfo, req requirements) (int, error) {
	best := -1
	for i, info := range infos {
		if !suitable(info, req) {
			continue
		}
		if best < 0 || better(info, infos[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("device: %d adapters enumerated, none suitable: %w",
			len(infos), hal.ErrNoSuitableDevice)
	}
	return best, nil
}

func better(a, b hal.AdapterInfo) bool {
	ad, bd := a.Class == hal.DeviceDiscrete, b.Class == hal.DeviceDiscrete
	if ad != bd {
		return ad
	}
	return a.HeapSize > b.HeapSize
}

// resolveQueues maps each queue kind to a concrete family index. Compute and
// transfer prefer a dedicated family (one without graphics caps) so that
// async work does not contend with rendering; every kind falls back to the
// graphics family when nothing better exists.
func resolveQueues(info hal.AdapterInfo, req requirements) ([numQueueKinds]uint32, error) {
	var out [numQueueKinds]uint32

	graphics := -1
	for _, f := range info.Families {
		if f.Caps.Has(hal.CapGraphics) {
			graphics = int(f.Index)
			break
		}
	}
	if graphics < 0 {
		return out, fmt.Errorf("device: adapter %q has no graphics family: %w",
			info.Name, hal.ErrNoSuitableDevice)
	}
	out[hal.QueueGraphics] = uint32(graphics)

	out[hal.QueueCompute] = pickFamily(info, hal.CapCompute, uint32(graphics))
	out[hal.QueueTransfer] = pickFamily(info, hal.CapTransfer, uint32(graphics))

	// Prefer the graphics family when it can present; same-family present
	// avoids a queue ownership transfer every frame.
	present := -1
	for _, f := range info.Families {
		if !f.Caps.Has(hal.CapPresent) {
			continue
		}
		if present < 0 {
			present = int(f.Index)
		}
		if f.Index == uint32(graphics) {
			present = graphics
			break
		}
	}
	if present < 0 {
		if req.present {
			return out, fmt.Errorf("device: adapter %q cannot present: %w",
				info.Name, hal.ErrNoSuitableDevice)
		}
		present = graphics
	}
	out[hal.QueuePresent] = uint32(present)

	return out, nil
}

// pickFamily returns the index of a dedicated family with cap, else any
// family with cap, else the fallback.
func pickFamily(info hal.AdapterInfo, cap hal.QueueCaps, fallback uint32) uint32 {
	chosen := -1
	for _, f := range info.Families {
		if !f.Caps.Has(cap) {
			continue
		}
		if !f.Caps.Has(hal.CapGraphics) {
			return f.Index
		}
		if chosen < 0 {
			chosen = int(f.Index)
		}
	}
	if chosen >= 0 {
		return uint32(chosen)
	}
	return fallback
}
