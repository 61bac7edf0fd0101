package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
)

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// Encode serializes the buffer. PNG output carries the buffer's DPI in a pHYs
// chunk so print tooling sees the intended resolution.
func Encode(b *Buffer, format string) ([]byte, error) {
	var buf bytes.Buffer

	switch normalizeFormat(format) {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, b.Pixels, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, b.Pixels); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		if b.DPI > 0 {
			return withPHYs(buf.Bytes(), b.DPI), nil
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func EncodePNG(b *Buffer) ([]byte, error) {
	return Encode(b, FormatPNG)
}

// EncodeDataURI renders the buffer as data:image/<format>;base64,<payload>.
func EncodeDataURI(b *Buffer, format string) (string, error) {
	format = normalizeFormat(format)
	data, err := Encode(b, format)
	if err != nil {
		return "", err
	}
	return DataURI("image/"+format, data), nil
}

func DataURI(mediaType string, payload []byte) string {
	return "data:" + strings.ToLower(mediaType) + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// DecodeDataURI accepts either a full data URI or a bare base64 payload.
func DecodeDataURI(s string) (*Buffer, error) {
	payload, err := DataURIPayload(s)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

func DataURIPayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty data uri", ErrDecode)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
	}
	return data, nil
}

func normalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "", "png":
		return FormatPNG
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

// withPHYs inserts a pHYs chunk right after IHDR. The encoder from image/png
// never writes one itself.
func withPHYs(encoded []byte, dpi float64) []byte {
	const ihdrEnd = len(pngSignature) + 4 + 4 + 13 + 4
	if len(encoded) < ihdrEnd {
		return encoded
	}

	ppm := uint32(math.Round(dpi / 0.0254))
	chunk := make([]byte, 4+4+9+4)
	binary.BigEndian.PutUint32(chunk[0:4], 9)
	copy(chunk[4:8], "pHYs")
	binary.BigEndian.PutUint32(chunk[8:12], ppm)
	binary.BigEndian.PutUint32(chunk[12:16], ppm)
	chunk[16] = 1
	binary.BigEndian.PutUint32(chunk[17:21], crc32.ChecksumIEEE(chunk[4:17]))

	out := make([]byte, 0, len(encoded)+len(chunk))
	out = append(out, encoded[:ihdrEnd]...)
	out = append(out, chunk...)
	out = append(out, encoded[ihdrEnd:]...)
	return out
}
