// Package sketch turns canvas payloads into the 784-value tensors the
// sketch classifier consumes.
//
// Canvases are drawn on a transparent background: a pixel is content when
// its alpha is non-zero. Compositing happens against opaque white, after
// cropping and resizing.
package sketch

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxDimension bounds the width and height of a decoded canvas. Larger
// images are rejected from their header before any pixels are allocated.
const MaxDimension = 4096

var (
	urlSafeRestorer = strings.NewReplacer(".", "+", "_", "/", "-", "=")
	urlSafeEscaper  = strings.NewReplacer("+", ".", "/", "_", "=", "-")
)

// RestoreAlphabet maps the URL-safe payload alphabet back to standard
// base64: '.'->'+', '_'->'/', '-'->'='.
func RestoreAlphabet(s string) string {
	return urlSafeRestorer.Replace(s)
}

// EscapeAlphabet is the inverse of RestoreAlphabet for standard base64.
func EscapeAlphabet(s string) string {
	return urlSafeEscaper.Replace(s)
}

// Decode turns a URL-safe payload into a 4-channel image. A leading
// "data:image/...;base64," prefix is accepted.
func Decode(payload string) (*image.NRGBA, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, &DecodeError{Reason: "data URL without payload"}
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, &DecodeError{Reason: "empty payload"}
	}

	data, err := base64.StdEncoding.DecodeString(RestoreAlphabet(s))
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes PNG, JPEG, GIF or WebP data into a 4-channel image.
// Formats without alpha come back fully opaque.
func DecodeBytes(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image data"}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unsupported image data", Err: err}
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, &DecodeError{Reason: fmt.Sprintf("image %dx%d exceeds %dx%d",
			cfg.Width, cfg.Height, MaxDimension, MaxDimension)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unsupported image data", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Reason: "image has no pixels"}
	}
	return imaging.Clone(img), nil
}

// Encode renders img as PNG and returns it in the URL-safe payload alphabet.
func Encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode PNG: %w", err)
	}
	return EscapeAlphabet(base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
