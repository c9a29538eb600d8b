package sketch

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

var (
	transparent = color.NRGBA{}
	ink         = color.NRGBA{A: 255}
)

// canvas returns a transparent w x h image with rect filled in ink.
func canvas(w, h int, rect image.Rectangle) *image.NRGBA {
	img := imaging.New(w, h, transparent)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, ink)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func urlSafePayload(t *testing.T, img image.Image) string {
	t.Helper()
	return EscapeAlphabet(base64.StdEncoding.EncodeToString(pngBytes(t, img)))
}
