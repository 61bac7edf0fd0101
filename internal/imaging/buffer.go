package imaging

import (
	"image"
	"math"
)

// DefaultDPI is assumed when an image carries no resolution metadata.
const DefaultDPI = 72

type Layout int

const (
	LayoutRGB Layout = iota
	LayoutRGBA
)

func (l Layout) String() string {
	if l == LayoutRGBA {
		return "RGBA"
	}
	return "RGB"
}

// Buffer is an in-memory raster. Pixels are non-premultiplied and anchored at
// the origin. An RGB buffer always holds fully opaque pixels.
//
// A Buffer handed to a pipeline stage belongs to that stage; callers must not
// keep using a buffer after passing it forward.
type Buffer struct {
	Pixels *image.NRGBA
	Layout Layout
	DPI    float64
}

func NewBuffer(pixels *image.NRGBA, layout Layout, dpi float64) *Buffer {
	return &Buffer{Pixels: pixels, Layout: layout, DPI: dpi}
}

// FromImage copies any image.Image into a Buffer.
func FromImage(src image.Image, dpi float64) *Buffer {
	layout := LayoutRGBA
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		layout = LayoutRGB
	}
	return &Buffer{Pixels: toNRGBA(src), Layout: layout, DPI: dpi}
}

func (b *Buffer) Width() int {
	return b.Pixels.Rect.Dx()
}

func (b *Buffer) Height() int {
	return b.Pixels.Rect.Dy()
}

// Size returns [width, height].
func (b *Buffer) Size() [2]int {
	return [2]int{b.Width(), b.Height()}
}

// EffectiveDPI returns the embedded resolution, or DefaultDPI when unknown.
func (b *Buffer) EffectiveDPI() float64 {
	if b.DPI <= 0 {
		return DefaultDPI
	}
	return b.DPI
}

func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pixels.Pix))
	copy(pix, b.Pixels.Pix)
	return &Buffer{
		Pixels: &image.NRGBA{Pix: pix, Stride: b.Pixels.Stride, Rect: b.Pixels.Rect},
		Layout: b.Layout,
		DPI:    b.DPI,
	}
}

// ToRGB drops the alpha channel in place and returns the buffer. Color values
// are kept as-is, transparent pixels are not composited onto a background.
func (b *Buffer) ToRGB() *Buffer {
	if b.Layout == LayoutRGB {
		return b
	}
	pix := b.Pixels.Pix
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
	b.Layout = LayoutRGB
	return b
}

// PrintSize reports the physical print size in inches at the given DPI.
func PrintSize(b *Buffer, dpi float64) (width, height float64) {
	if dpi <= 0 {
		dpi = b.EffectiveDPI()
	}
	return float64(b.Width()) / dpi, float64(b.Height()) / dpi
}

func toNRGBA(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok {
		dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		for y := 0; y < bounds.Dy(); y++ {
			srcOff := n.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], n.Pix[srcOff:srcOff+dst.Stride])
		}
		return dst
	}
	if r, ok := src.(*image.RGBA); ok {
		return unpremultiply(r)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			dst.Set(x, y, src.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return dst
}

func unpremultiply(src *image.RGBA) *image.NRGBA {
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		srcOff := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		dstOff := y * dst.Stride
		for x := 0; x < bounds.Dx(); x++ {
			s := src.Pix[srcOff+x*4 : srcOff+x*4+4 : srcOff+x*4+4]
			d := dst.Pix[dstOff+x*4 : dstOff+x*4+4 : dstOff+x*4+4]
			a := s[3]
			switch a {
			case 0:
				d[0], d[1], d[2], d[3] = 0, 0, 0, 0
			case 0xff:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
			default:
				d[0] = uint8(math.Min(255, math.Round(float64(s[0])*255/float64(a))))
				d[1] = uint8(math.Min(255, math.Round(float64(s[1])*255/float64(a))))
				d[2] = uint8(math.Min(255, math.Round(float64(s[2])*255/float64(a))))
				d[3] = a
			}
		}
	}
	return dst
}
