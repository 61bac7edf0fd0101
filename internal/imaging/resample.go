package imaging

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Resize returns a new buffer scaled to exactly w x h. The kernel is
// deterministic and the call has no failure mode.
func Resize(b *Buffer, w, h int) *Buffer {
	w, h = max(1, w), max(1, h)
	if w == b.Width() && h == b.Height() {
		return b.Clone()
	}
	out := &Buffer{
		Pixels: defaultScaler.scaleNRGBA(b.Pixels, w, h),
		Layout: b.Layout,
		DPI:    b.DPI,
	}
	if out.Layout == LayoutRGB {
		out.ToRGB()
	}
	return out
}

// ResizeGray scales a single-channel mask to w x h.
func ResizeGray(m *image.Gray, w, h int) *image.Gray {
	w, h = max(1, w), max(1, h)
	if m.Rect.Dx() == w && m.Rect.Dy() == h {
		out := image.NewGray(image.Rect(0, 0, w, h))
		copy(out.Pix, m.Pix)
		return out
	}
	return defaultScaler.scaleGray(m, w, h)
}

type scaler interface {
	scaleNRGBA(src *image.NRGBA, w, h int) *image.NRGBA
	scaleGray(src *image.Gray, w, h int) *image.Gray
}

type catmullRomScaler struct{}

func (catmullRomScaler) scaleNRGBA(src *image.NRGBA, w, h int) *image.NRGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return unpremultiply(dst)
}

func (catmullRomScaler) scaleGray(src *image.Gray, w, h int) *image.Gray {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := image.NewGray(dst.Rect)
	for i := range out.Pix {
		out.Pix[i] = dst.Pix[i*4]
	}
	return out
}
