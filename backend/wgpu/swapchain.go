package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	wgpuhal "github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rend/hal"
)

const swapchainImageCount = 3

// swapchain is an offscreen ring of render-attachment textures. Acquire
// hands out images round-robin and points the device's render target at
// the acquired image; Present reads the image back through a staging
// buffer and delivers the pixels to the backend's PresentFunc.
type swapchain struct {
	dev    *Device
	images []*image
	extent hal.Extent
	format hal.Format

	mu        sync.Mutex
	next      int
	destroyed bool
}

// CreateSwapchain builds the image ring for the surface extent. The old
// chain only informs the image count; its textures cannot be recycled
// across extents.
func (d *Device) CreateSwapchain(surface hal.Surface, extent hal.Extent, old hal.Swapchain) (hal.Swapchain, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if extent.IsZero() {
		return nil, fmt.Errorf("wgpu: zero surface extent: %w", hal.ErrSurfaceOutOfDate)
	}

	count := swapchainImageCount
	if old != nil {
		if n := old.ImageCount(); n > 0 {
			count = n
		}
	}
	format := hal.FormatBGRA8Unorm

	sc := &swapchain{dev: d, extent: extent, format: format}
	for i := 0; i < count; i++ {
		block := &memoryBlock{
			size:     uint64(extent.Width) * uint64(extent.Height) * uint64(format.BytesPerPixel()),
			locality: hal.LocalityDevice,
		}
		img, err := d.CreateImage(hal.ImageDescriptor{
			Extent: extent,
			Format: format,
			Usage:  hal.ImageUsageColorAttachment | hal.ImageUsageCopySrc,
			Memory: block,
			Label:  fmt.Sprintf("swapchain_%d", i),
		})
		if err != nil {
			sc.Destroy()
			return nil, fmt.Errorf("wgpu: swapchain image %d: %w", i, err)
		}
		sc.images = append(sc.images, img.(*image))
	}
	return sc, nil
}

// Acquire hands out the next image in the ring. Offscreen images are
// always available; pacing comes from the frame scheduler's fences.
func (s *swapchain) Acquire(signal hal.Semaphore, timeout time.Duration) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0, hal.ErrSurfaceLost
	}
	if err := s.dev.checkLost(); err != nil {
		return 0, err
	}
	idx := s.next
	s.next = (s.next + 1) % len(s.images)
	s.dev.setRenderTarget(s.images[idx])
	return uint32(idx), nil
}

// Present reads the rendered image back and hands the pixels to the
// registered presenter. Without a presenter the frame is dropped, which
// keeps headless runs cheap.
func (s *swapchain) Present(imageIndex uint32, wait hal.Semaphore) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return hal.ErrSurfaceLost
	}
	if int(imageIndex) >= len(s.images) {
		s.mu.Unlock()
		return fmt.Errorf("wgpu: present of image %d of %d: %w",
			imageIndex, len(s.images), hal.ErrInvalidUsage)
	}
	img := s.images[imageIndex]
	s.mu.Unlock()

	if err := s.dev.checkLost(); err != nil {
		return err
	}
	present := s.dev.presenter()
	if present == nil {
		return nil
	}

	pixels, err := s.readback(img)
	if err != nil {
		return err
	}
	present(pixels, s.extent, s.format)
	return nil
}

// readback copies the image into a staging buffer and returns tightly
// packed rows. Copy row pitch must be 256-byte aligned.
func (s *swapchain) readback(img *image) ([]byte, error) {
	d := s.dev
	w, h := img.extent.Width, img.extent.Height
	bpp := uint32(img.format.BytesPerPixel())

	bytesPerRow := w * bpp
	const copyPitchAlignment = 256
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ uint32(copyPitchAlignment-1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(h)

	staging, err := d.dev.CreateBuffer(&wgpuhal.BufferDescriptor{
		Label: "present_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: present staging buffer: %w", mapCreateErr(err))
	}
	defer d.dev.DestroyBuffer(staging)

	enc, err := d.dev.CreateCommandEncoder(&wgpuhal.CommandEncoderDescriptor{Label: "present_readback"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: present encoder: %w", err)
	}
	if err := enc.BeginEncoding("present_readback"); err != nil {
		return nil, fmt.Errorf("wgpu: present encoding: %w", err)
	}

	enc.TransitionTextures([]wgpuhal.TextureBarrier{{
		Texture: img.tex,
		Usage: wgpuhal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	enc.CopyTextureToBuffer(img.tex, staging, []wgpuhal.BufferTextureCopy{{
		BufferLayout: wgpuhal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
		TextureBase:  wgpuhal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		Size:         wgpuhal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	enc.TransitionTextures([]wgpuhal.TextureBarrier{{
		Texture: img.tex,
		Usage: wgpuhal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: present encoding end: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)

	fence, err := d.dev.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: present fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)

	d.submitMu.Lock()
	err = d.queue.Submit([]wgpuhal.CommandBuffer{cmdBuf}, fence, 1)
	d.submitMu.Unlock()
	if err != nil {
		d.markLost()
		return nil, fmt.Errorf("wgpu: present submit: %w", hal.ErrDeviceLost)
	}
	ok, err := d.dev.Wait(fence, 1, 5*time.Second)
	if err != nil || !ok {
		d.markLost()
		return nil, fmt.Errorf("wgpu: present wait: %w", hal.ErrDeviceLost)
	}

	readback := make([]byte, stagingSize)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("wgpu: present readback: %w", err)
	}
	if alignedBytesPerRow == bytesPerRow {
		return readback, nil
	}
	tight := make([]byte, uint64(bytesPerRow)*uint64(h))
	for row := uint32(0); row < h; row++ {
		copy(tight[row*bytesPerRow:(row+1)*bytesPerRow],
			readback[row*alignedBytesPerRow:row*alignedBytesPerRow+bytesPerRow])
	}
	return tight, nil
}

// ImageCount returns the number of images in the ring.
func (s *swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Extent returns the extent the chain was built against.
func (s *swapchain) Extent() hal.Extent { return s.extent }

// Format returns the image format of the chain.
func (s *swapchain) Format() hal.Format { return s.format }

// Destroy releases the image ring.
func (s *swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.dev.renderTarget() != nil {
		for _, img := range s.images {
			if s.dev.renderTarget() == img {
				s.dev.setRenderTarget(nil)
				break
			}
		}
	}
	for _, img := range s.images {
		s.dev.DestroyImage(img)
	}
	s.images = nil
}
