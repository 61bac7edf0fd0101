package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
)

func TestEncodeDataURIUsesLowercaseMediaType(t *testing.T) {
	buf := solidBuffer(4, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	uri, err := EncodeDataURI(buf, "PNG")
	if err != nil {
		t.Fatalf("encode data uri: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %.40s", uri)
	}

	decoded, err := DecodeDataURI(uri)
	if err != nil {
		t.Fatalf("decode data uri: %v", err)
	}
	if decoded.Size() != [2]int{4, 3} {
		t.Fatalf("expected 4x3, got %v", decoded.Size())
	}
	if got := decoded.Pixels.NRGBAAt(2, 1); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Fatalf("pixel mismatch: %+v", got)
	}
}

func TestDecodeDataURIAcceptsBarePayload(t *testing.T) {
	buf := solidBuffer(2, 2, color.NRGBA{A: 255})
	data, err := EncodePNG(buf)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}

	decoded, err := DecodeDataURI(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		t.Fatalf("decode bare payload: %v", err)
	}
	if decoded.Width() != 2 {
		t.Fatalf("expected width 2, got %d", decoded.Width())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not an image")); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for empty input, got %v", err)
	}
	if _, err := DecodeDataURI("data:image/png;base64,!!!"); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for bad base64, got %v", err)
	}
}

func TestPNGDPIRoundTrip(t *testing.T) {
	buf := solidBuffer(8, 8, color.NRGBA{R: 200, A: 255})
	buf.DPI = 300

	data, err := EncodePNG(buf)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode png with pHYs: %v", err)
	}
	if decoded.DPI != 300 {
		t.Fatalf("expected dpi 300, got %v", decoded.DPI)
	}
}

func TestPNGWithoutDPIUsesDefault(t *testing.T) {
	data, err := EncodePNG(solidBuffer(3, 3, color.NRGBA{A: 255}))
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.DPI != 0 {
		t.Fatalf("expected no embedded dpi, got %v", decoded.DPI)
	}
	if decoded.EffectiveDPI() != DefaultDPI {
		t.Fatalf("expected effective dpi %d, got %v", DefaultDPI, decoded.EffectiveDPI())
	}
}

func TestJFIFDensity(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	// image/jpeg writes no APP0; splice a JFIF segment at 150 dpi after SOI.
	app0 := []byte{0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x02, 0x01, 0x00, 0x96, 0x00, 0x96, 0x00, 0x00}
	data := append([]byte{0xff, 0xd8}, append(app0, buf.Bytes()[2:]...)...)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if decoded.DPI != 150 {
		t.Fatalf("expected dpi 150, got %v", decoded.DPI)
	}
	if decoded.Layout != LayoutRGB {
		t.Fatalf("expected RGB layout for jpeg, got %s", decoded.Layout)
	}
}

func TestToRGBDropsAlpha(t *testing.T) {
	buf := solidBuffer(2, 2, color.NRGBA{R: 50, G: 60, B: 70, A: 10})
	buf.Layout = LayoutRGBA

	buf.ToRGB()

	if buf.Layout != LayoutRGB {
		t.Fatalf("expected RGB layout, got %s", buf.Layout)
	}
	if got := buf.Pixels.NRGBAAt(1, 1); got != (color.NRGBA{R: 50, G: 60, B: 70, A: 255}) {
		t.Fatalf("expected color kept with opaque alpha, got %+v", got)
	}
}

func solidBuffer(w, h int, c color.NRGBA) *Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	layout := LayoutRGB
	if c.A != 255 {
		layout = LayoutRGBA
	}
	return NewBuffer(img, layout, 0)
}
