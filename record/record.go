// Package record provides the validated command recording session.
//
// A Session wraps one hal.CommandBuffer for one frame. Every resource
// reference is resolved through the resource manager at record time, so a
// stale or destroyed handle fails the recording with
// hal.ErrInvalidResourceReference before anything reaches the device.
// Referenced resources are tagged with the frame's sequence number, which
// is what defers their release until this frame completes on the GPU.
//
// Errors are sticky. After the first failure every further call and End
// report it, so call sites can record an entire pass and check once.
package record

import (
	"fmt"

	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/resource"
)

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateRecording accepts commands.
	StateRecording State = iota

	// StateFinished means End succeeded; the command buffer is submittable.
	StateFinished

	// StateFailed means recording aborted; the buffer must not be submitted.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Session records one frame's commands against a command buffer.
// It is not safe for concurrent use.
type Session struct {
	cmd   hal.CommandBuffer
	res   *resource.Manager
	seq   uint64
	state State
	err   error
}

// Begin opens a session on cmd for the frame with the given sequence
// number. The buffer must be reset and not recording.
func Begin(cmd hal.CommandBuffer, res *resource.Manager, seq uint64) (*Session, error) {
	if cmd == nil || res == nil {
		return nil, fmt.Errorf("record: nil command buffer or resource manager: %w", hal.ErrInvalidUsage)
	}
	if err := cmd.Begin(); err != nil {
		return nil, fmt.Errorf("record: begin: %w", err)
	}
	return &Session{cmd: cmd, res: res, seq: seq}, nil
}

// Sequence returns the frame sequence number the session records for.
func (s *Session) Sequence() uint64 { return s.seq }

// State returns the session lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the sticky recording error, if any.
func (s *Session) Err() error { return s.err }

// fail latches the first error and moves the session to StateFailed.
func (s *Session) fail(err error) error {
	if s.err == nil {
		s.err = err
		s.state = StateFailed
	}
	return s.err
}

// active reports whether commands may still be appended.
func (s *Session) active() error {
	if s.err != nil {
		return s.err
	}
	if s.state != StateRecording {
		return s.fail(fmt.Errorf("record: command after End: %w", hal.ErrInvalidUsage))
	}
	return nil
}

// useBuffer resolves h as a live buffer and tags it with the frame
// sequence.
func (s *Session) useBuffer(h resource.Handle, op string) (hal.Buffer, error) {
	buf, err := s.res.Buffer(h)
	if err != nil {
		return nil, s.fail(fmt.Errorf("record: %s %v: %w", op, h, hal.ErrInvalidResourceReference))
	}
	if err := s.res.MarkUsed(h, s.seq); err != nil {
		return nil, s.fail(fmt.Errorf("record: %s %v: %w", op, h, hal.ErrInvalidResourceReference))
	}
	return buf, nil
}

// BindPipeline selects the pipeline for subsequent draws.
func (s *Session) BindPipeline(h resource.Handle) error {
	if err := s.active(); err != nil {
		return err
	}
	p, err := s.res.Pipeline(h)
	if err != nil {
		return s.fail(fmt.Errorf("record: bind pipeline %v: %w", h, hal.ErrInvalidResourceReference))
	}
	if err := s.res.MarkUsed(h, s.seq); err != nil {
		return s.fail(fmt.Errorf("record: bind pipeline %v: %w", h, hal.ErrInvalidResourceReference))
	}
	if err := s.cmd.BindPipeline(p); err != nil {
		return s.fail(fmt.Errorf("record: bind pipeline: %w", err))
	}
	return nil
}

// BindVertexBuffer selects the vertex buffer for subsequent draws.
func (s *Session) BindVertexBuffer(h resource.Handle) error {
	if err := s.active(); err != nil {
		return err
	}
	buf, err := s.useBuffer(h, "bind vertex buffer")
	if err != nil {
		return err
	}
	if err := s.cmd.BindVertexBuffer(buf); err != nil {
		return s.fail(fmt.Errorf("record: bind vertex buffer: %w", err))
	}
	return nil
}

// BindUniformBuffer binds a uniform buffer at the given slot.
func (s *Session) BindUniformBuffer(h resource.Handle, slot uint32) error {
	if err := s.active(); err != nil {
		return err
	}
	buf, err := s.useBuffer(h, "bind uniform buffer")
	if err != nil {
		return err
	}
	if err := s.cmd.BindUniformBuffer(buf, slot); err != nil {
		return s.fail(fmt.Errorf("record: bind uniform buffer: %w", err))
	}
	return nil
}

// Draw appends a draw of vertexCount vertices over instanceCount instances.
func (s *Session) Draw(vertexCount, instanceCount uint32) error {
	if err := s.active(); err != nil {
		return err
	}
	if vertexCount == 0 || instanceCount == 0 {
		return s.fail(fmt.Errorf("record: empty draw %dx%d: %w",
			vertexCount, instanceCount, hal.ErrInvalidUsage))
	}
	if err := s.cmd.Draw(vertexCount, instanceCount); err != nil {
		return s.fail(fmt.Errorf("record: draw: %w", err))
	}
	return nil
}

// CopyBuffer appends a size-byte copy between two buffers.
func (s *Session) CopyBuffer(src, dst resource.Handle, size uint64) error {
	if err := s.active(); err != nil {
		return err
	}
	srcBuf, err := s.useBuffer(src, "copy from")
	if err != nil {
		return err
	}
	dstBuf, err := s.useBuffer(dst, "copy to")
	if err != nil {
		return err
	}
	if size == 0 || size > srcBuf.Size() || size > dstBuf.Size() {
		return s.fail(fmt.Errorf("record: copy of %d bytes between %d and %d byte buffers: %w",
			size, srcBuf.Size(), dstBuf.Size(), hal.ErrInvalidUsage))
	}
	if err := s.cmd.CopyBuffer(srcBuf, dstBuf, size); err != nil {
		return s.fail(fmt.Errorf("record: copy buffer: %w", err))
	}
	return nil
}

// CopyBufferToImage appends a copy of packed pixels from src into the whole
// of the image behind dst.
func (s *Session) CopyBufferToImage(src, dst resource.Handle) error {
	if err := s.active(); err != nil {
		return err
	}
	srcBuf, err := s.useBuffer(src, "copy from")
	if err != nil {
		return err
	}
	img, err := s.res.Image(dst)
	if err != nil {
		return s.fail(fmt.Errorf("record: copy to image %v: %w", dst, hal.ErrInvalidResourceReference))
	}
	if err := s.res.MarkUsed(dst, s.seq); err != nil {
		return s.fail(fmt.Errorf("record: copy to image %v: %w", dst, hal.ErrInvalidResourceReference))
	}
	ext := img.Extent()
	need := uint64(ext.Width) * uint64(ext.Height) * uint64(img.Format().BytesPerPixel())
	if srcBuf.Size() < need {
		return s.fail(fmt.Errorf("record: %d byte staging for %d byte image: %w",
			srcBuf.Size(), need, hal.ErrInvalidUsage))
	}
	if err := s.cmd.CopyBufferToImage(srcBuf, img); err != nil {
		return s.fail(fmt.Errorf("record: copy buffer to image: %w", err))
	}
	return nil
}

// Barrier appends a full execution and memory barrier.
func (s *Session) Barrier() error {
	if err := s.active(); err != nil {
		return err
	}
	if err := s.cmd.Barrier(); err != nil {
		return s.fail(fmt.Errorf("record: barrier: %w", err))
	}
	return nil
}

// End closes recording. On success the underlying command buffer is
// submittable; on a sticky error the buffer is left ended but must be
// discarded by resetting it.
func (s *Session) End() error {
	if s.state == StateFinished {
		return fmt.Errorf("record: double End: %w", hal.ErrInvalidUsage)
	}
	if endErr := s.cmd.End(); endErr != nil && s.err == nil {
		s.fail(fmt.Errorf("record: end: %w", endErr))
	}
	if s.err != nil {
		return s.err
	}
	s.state = StateFinished
	return nil
}
