//go:build cgo

// Package native binds libavif for still-AVIF and sequence-AVIS encoding.
// Builds without cgo fall back to stubs that report the backend as
// unavailable.
package native

/*
#cgo pkg-config: libavif
#include <avif/avif.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// sequenceTimescale stamps AVIS tracks at 30 ticks per second with unit
// frame durations. The runtime decodes by frame index, so the timestamps
// only need to be monotonic.
const sequenceTimescale = 30

// Available reports whether the libavif backend is usable in this process.
func Available() bool { return true }

// EncodeStill encodes one RGBA frame as a single-image AVIF. quality is the
// 1-63 scale where lower means smaller.
func EncodeStill(pix []byte, width, height int, alpha bool, quality, speed int) ([]byte, error) {
	img, err := newYUVImage(pix, width, height, alpha)
	if err != nil {
		return nil, err
	}
	defer C.avifImageDestroy(img)

	enc := newEncoder(quality, speed, 0)
	defer C.avifEncoderDestroy(enc)

	var out C.avifRWData
	defer C.avifRWDataFree(&out)
	if res := C.avifEncoderWrite(enc, img, &out); res != C.AVIF_RESULT_OK {
		return nil, resultError("avifEncoderWrite", res)
	}
	return C.GoBytes(unsafe.Pointer(out.data), C.int(out.size)), nil
}

// EncodeSequence encodes ordered equal-size RGBA frames as an AV1 image
// sequence (ftyp avis). The caller has already validated frame dimensions.
func EncodeSequence(frames [][]byte, width, height, quality, speed int) ([]byte, error) {
	enc := newEncoder(quality, speed, sequenceTimescale)
	defer C.avifEncoderDestroy(enc)

	for i, pix := range frames {
		img, err := newYUVImage(pix, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		res := C.avifEncoderAddImage(enc, img, 1, C.avifAddImageFlags(C.AVIF_ADD_IMAGE_FLAG_NONE))
		C.avifImageDestroy(img)
		if res != C.AVIF_RESULT_OK {
			return nil, fmt.Errorf("frame %d: %w", i, resultError("avifEncoderAddImage", res))
		}
	}

	var out C.avifRWData
	defer C.avifRWDataFree(&out)
	if res := C.avifEncoderFinish(enc, &out); res != C.AVIF_RESULT_OK {
		return nil, resultError("avifEncoderFinish", res)
	}
	return C.GoBytes(unsafe.Pointer(out.data), C.int(out.size)), nil
}

// newEncoder configures an avifEncoder. The 1-63 lower-is-smaller quality
// scale maps onto libavif quantizers as 63-quality.
func newEncoder(quality, speed int, timescale uint64) *C.avifEncoder {
	enc := C.avifEncoderCreate()
	qp := C.int(63 - quality)
	if qp < C.AVIF_QUANTIZER_BEST_QUALITY {
		qp = C.AVIF_QUANTIZER_BEST_QUALITY
	}
	if qp > C.AVIF_QUANTIZER_WORST_QUALITY {
		qp = C.AVIF_QUANTIZER_WORST_QUALITY
	}
	enc.minQuantizer = qp
	enc.maxQuantizer = qp
	enc.minQuantizerAlpha = qp
	enc.maxQuantizerAlpha = qp
	enc.speed = C.int(speed)
	enc.maxThreads = 1
	if timescale > 0 {
		enc.timescale = C.uint64_t(timescale)
	}
	return enc
}

// newYUVImage converts packed RGBA into a YUV420 avifImage the encoder owns
// until destroyed.
func newYUVImage(pix []byte, width, height int, alpha bool) (*C.avifImage, error) {
	img := C.avifImageCreate(C.uint32_t(width), C.uint32_t(height), 8, C.AVIF_PIXEL_FORMAT_YUV420)
	if img == nil {
		return nil, fmt.Errorf("avifImageCreate failed for %dx%d", width, height)
	}

	var rgb C.avifRGBImage
	C.avifRGBImageSetDefaults(&rgb, img)
	rgb.format = C.AVIF_RGB_FORMAT_RGBA
	rgb.rowBytes = C.uint32_t(width * 4)
	rgb.pixels = (*C.uint8_t)(unsafe.Pointer(&pix[0]))
	if !alpha {
		rgb.ignoreAlpha = C.AVIF_TRUE
	}

	if res := C.avifImageRGBToYUV(img, &rgb); res != C.AVIF_RESULT_OK {
		C.avifImageDestroy(img)
		return nil, resultError("avifImageRGBToYUV", res)
	}
	return img, nil
}

func resultError(op string, res C.avifResult) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.avifResultToString(res)))
}
