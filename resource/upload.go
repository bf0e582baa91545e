package resource

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/rend/hal"
)

// UploadImage prepares src for transfer into the image behind h: pixels are
// converted (and scaled when the sizes differ) to the image's format and
// written into a freshly created host-visible staging buffer.
//
// The caller records a CopyBufferToImage from the returned staging handle
// and destroys it after the frame; deferred release keeps the staging
// memory alive until the copy has executed.
func (m *Manager) UploadImage(h Handle, src image.Image) (Handle, error) {
	img, err := m.Image(h)
	if err != nil {
		return Handle{}, err
	}

	pixels, err := convertPixels(src, img.Extent(), img.Format())
	if err != nil {
		return Handle{}, err
	}

	staging, err := m.CreateBuffer(BufferDesc{
		Size:     uint64(len(pixels)),
		Usage:    hal.BufferUsageCopySrc,
		Locality: hal.LocalityHost,
		Label:    "staging",
	})
	if err != nil {
		return Handle{}, err
	}
	if err := m.WriteBuffer(staging, 0, pixels); err != nil {
		_ = m.Destroy(staging)
		return Handle{}, err
	}
	return staging, nil
}

// convertPixels renders src into a tightly packed pixel slice of the given
// extent and format. Catmull-Rom resampling is used when scaling is needed.
func convertPixels(src image.Image, extent hal.Extent, format hal.Format) ([]byte, error) {
	bounds := image.Rect(0, 0, int(extent.Width), int(extent.Height))

	switch format {
	case hal.FormatR8Unorm:
		dst := image.NewGray(bounds)
		blit(dst, src)
		return dst.Pix, nil

	case hal.FormatRGBA8Unorm:
		dst := image.NewRGBA(bounds)
		blit(dst, src)
		return dst.Pix, nil

	case hal.FormatBGRA8Unorm, hal.FormatBGRA8SRGB:
		dst := image.NewRGBA(bounds)
		blit(dst, src)
		for i := 0; i < len(dst.Pix); i += 4 {
			dst.Pix[i], dst.Pix[i+2] = dst.Pix[i+2], dst.Pix[i]
		}
		return dst.Pix, nil

	default:
		return nil, fmt.Errorf("resource: cannot upload pixels as %s: %w",
			format, hal.ErrInvalidUsage)
	}
}

func blit(dst xdraw.Image, src image.Image) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() == sb.Dx() && db.Dy() == sb.Dy() {
		xdraw.Copy(dst, db.Min, src, sb, xdraw.Src, nil)
		return
	}
	xdraw.CatmullRom.Scale(dst, db, src, sb, xdraw.Src, nil)
}
