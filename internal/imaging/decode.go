package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxDecodePixels bounds the canvas allocated for a single upload.
const maxDecodePixels = 100_000_000

var ErrDecode = errors.New("decode image")

// Decode parses an encoded raster (PNG, JPEG, GIF, WebP, BMP, TIFF) and reads
// its embedded resolution when present.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit %d", ErrDecode, cfg.Width, cfg.Height, maxDecodePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}

	return FromImage(img, readDPI(data, format)), nil
}

// DecodeMask decodes an encoded single-channel probability mask. Color masks
// are reduced to luminance.
func DecodeMask(data []byte) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mask: %v", ErrDecode, err)
	}
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g, nil
	}

	bounds := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			mask.SetGray(x, y, color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray))
		}
	}
	return mask, nil
}

func readDPI(data []byte, format string) float64 {
	switch format {
	case "png":
		return pngDPI(data)
	case "jpeg":
		return jfifDPI(data)
	default:
		return 0
	}
}

const pngSignature = "\x89PNG\r\n\x1a\n"

func pngDPI(data []byte) float64 {
	if len(data) < len(pngSignature) || string(data[:len(pngSignature)]) != pngSignature {
		return 0
	}
	off := len(pngSignature)
	for off+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		kind := string(data[off+4 : off+8])
		body := off + 8
		if length < 0 || body+length > len(data) {
			return 0
		}
		switch kind {
		case "pHYs":
			if length < 9 {
				return 0
			}
			ppuX := binary.BigEndian.Uint32(data[body : body+4])
			unit := data[body+8]
			if unit != 1 || ppuX == 0 {
				return 0
			}
			return roundDPI(float64(ppuX) * 0.0254)
		case "IDAT", "IEND":
			return 0
		}
		off = body + length + 4
	}
	return 0
}

func jfifDPI(data []byte) float64 {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return 0
	}
	off := 2
	for off+4 <= len(data) {
		if data[off] != 0xff {
			return 0
		}
		marker := data[off+1]
		if marker == 0xda || marker == 0xd9 {
			return 0
		}
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		seg := off + 4
		if length < 2 || off+2+length > len(data) {
			return 0
		}
		if marker == 0xe0 && length >= 14 && string(data[seg:seg+5]) == "JFIF\x00" {
			units := data[seg+7]
			density := float64(binary.BigEndian.Uint16(data[seg+8 : seg+10]))
			switch units {
			case 1:
				return roundDPI(density)
			case 2:
				return roundDPI(density * 2.54)
			default:
				return 0
			}
		}
		off += 2 + length
	}
	return 0
}

// roundDPI absorbs the pixels-per-meter quantization PNG imposes.
func roundDPI(v float64) float64 {
	return math.Round(v)
}
