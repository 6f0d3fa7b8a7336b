package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/NihilDigit/renpak/encode/native"
)

// Quality bounds; lower means a smaller, lossier file.
const (
	MinQuality = 1
	MaxQuality = 63
)

// DefaultSpeed is the encoder speed preset (0-10, higher is faster).
const DefaultSpeed = 6

// ErrNoFrames is reported when a sequence encode receives an empty frame
// list.
var ErrNoFrames = errors.New("no frames to encode")

// DimensionError is reported when sequence frames do not share dimensions.
type DimensionError struct {
	Index         int
	Width, Height int
	WantW, WantH  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("frame %d has size %dx%d, expected %dx%d",
		e.Index, e.Width, e.Height, e.WantW, e.WantH)
}

// Frame is one decoded image in RGBA order, 4 bytes per pixel.
type Frame struct {
	Pix      []byte
	Width    int
	Height   int
	HasAlpha bool
}

// DecodeFrame decodes raw image file bytes (any registered format) into an
// RGBA frame, noting in HasAlpha whether any pixel is not fully opaque.
func DecodeFrame(data []byte) (Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode failed: %w", err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		converted := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(converted, converted.Bounds(), img, bounds.Min, draw.Src)
		rgba = converted
	}

	return Frame{
		Pix:      rgba.Pix,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		HasAlpha: hasTransparency(rgba.Pix),
	}, nil
}

// hasTransparency reports whether any pixel is not fully opaque. Sources
// without an alpha channel decode to opaque pixels and report false; so does
// a source whose alpha channel holds only opaque values.
func hasTransparency(pix []byte) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0xFF {
			return true
		}
	}
	return false
}

// Codec is the capability object the build scheduler encodes through. It
// carries the still and sequence entry points plus the sequence feature
// flag, so callers never reach for a global encoder handle.
type Codec interface {
	// EncodeAVIF decodes raw image bytes and encodes a single-image AVIF.
	EncodeAVIF(data []byte, quality, speed int) ([]byte, error)
	// EncodeAVIS encodes ordered same-size RGBA frames as an AV1 image
	// sequence.
	EncodeAVIS(frames []Frame, width, height, quality, speed int) ([]byte, error)
	// SequencesSupported reports whether EncodeAVIS is usable in this
	// process.
	SequencesSupported() bool
}

// NewCodec returns the libavif-backed codec.
func NewCodec() Codec { return avifCodec{} }

type avifCodec struct{}

func (avifCodec) EncodeAVIF(data []byte, quality, speed int) ([]byte, error) {
	frame, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	out, err := native.EncodeStill(frame.Pix, frame.Width, frame.Height, frame.HasAlpha, clampQuality(quality), speed)
	if err != nil {
		return nil, fmt.Errorf("avif encode failed: %w", err)
	}
	return out, nil
}

func (avifCodec) EncodeAVIS(frames []Frame, width, height, quality, speed int) ([]byte, error) {
	if err := ValidateFrames(frames, width, height); err != nil {
		return nil, err
	}
	pix := make([][]byte, len(frames))
	for i, f := range frames {
		pix[i] = f.Pix
	}
	out, err := native.EncodeSequence(pix, width, height, clampQuality(quality), speed)
	if err != nil {
		return nil, fmt.Errorf("avis encode failed: %w", err)
	}
	return out, nil
}

func (avifCodec) SequencesSupported() bool { return native.Available() }

// ValidateFrames checks that the frame list is non-empty and that every
// frame matches the stated dimensions.
func ValidateFrames(frames []Frame, width, height int) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	for i, f := range frames {
		if f.Width != width || f.Height != height {
			return &DimensionError{Index: i, Width: f.Width, Height: f.Height, WantW: width, WantH: height}
		}
		if len(f.Pix) != width*height*4 {
			return fmt.Errorf("frame %d has %d pixel bytes, expected %d", i, len(f.Pix), width*height*4)
		}
	}
	return nil
}

func clampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}
