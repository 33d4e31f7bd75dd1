// Package imaging validates and normalizes gear photos before they touch the
// database or the analysis service. Validation is local and synchronous; a
// photo that fails here never triggers a network call.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// MaxSourceBytes caps the accepted upload size.
	MaxSourceBytes = 2 << 20 // 2 MiB

	// MaxSourceDimension caps the accepted source width/height.
	MaxSourceDimension = 4096

	// MaxStoredDimension is the longest edge after downscaling.
	MaxStoredDimension = 1024

	// JPEGQuality is the compression quality for stored output.
	JPEGQuality = 85
)

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// ErrTooLarge is returned when the source exceeds MaxSourceBytes.
var ErrTooLarge = errors.New("image exceeds maximum size")

// Photo is a normalized, storage-ready image.
type Photo struct {
	Data []byte
	MIME string
}

// Process reads image data, sniffs the format from the bytes (client headers
// are not trusted), enforces the size and dimension caps, downscales, and
// re-encodes as JPEG for consistent storage.
func Process(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if len(data) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	return process(data)
}

func process(data []byte) (*Photo, error) {
	detected := http.DetectContentType(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("unsupported image format: %s (only JPEG and PNG accepted)", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxSourceDimension || bounds.Dy() > MaxSourceDimension {
		return nil, fmt.Errorf("image dimensions %dx%d exceed maximum %d", bounds.Dx(), bounds.Dy(), MaxSourceDimension)
	}

	img = downscale(img, MaxStoredDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
}

// FromDataURI parses a "data:<mime>;base64,<payload>" string and runs the
// decoded bytes through the same validation pipeline as uploads.
func FromDataURI(uri string) (*Photo, error) {
	payload, err := decodeDataURI(uri)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	return process(payload)
}

// DataURI renders a stored photo in the form the analysis service expects.
func (p *Photo) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIME, base64.StdEncoding.EncodeToString(p.Data))
}

func decodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, errors.New("not a data URI")
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URI: missing payload")
	}
	meta := uri[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("malformed data URI: expected base64 encoding")
	}
	payload, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decoding data URI payload: %w", err)
	}
	return payload, nil
}

// downscale resizes the image so neither dimension exceeds maxDim, preserving
// aspect ratio with Catmull-Rom interpolation. Returns the original image if
// already within bounds.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
