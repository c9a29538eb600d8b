package sketch

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/Brownie44l1/sketch-api/internal/model"
)

// Contract is the fixed intensity preprocessing a set of weights was
// trained with. It is configuration, never derived from the input.
type Contract struct {
	// StretchAlpha rescales the alpha channel so its minimum maps to 0 and
	// its maximum to 255. Uniform alpha is left untouched.
	StretchAlpha bool

	// Background is composited under the image to remove transparency.
	Background color.NRGBA

	// Invert maps dark strokes on a light background to high values.
	Invert bool

	// Each intensity is emitted as (luma/255)*Scale + Offset.
	Scale  float32
	Offset float32
}

// QuickDraw is the contract of the shipped sketch checkpoints: strokes over
// white, ITU-R 601-2 luma, inverted, in [0,1].
var QuickDraw = Contract{
	StretchAlpha: true,
	Background:   color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	Invert:       true,
	Scale:        1,
	Offset:       0,
}

// Luma weights (ITU-R 601-2).
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Normalize flattens a 28x28 image into a row-major tensor of
// model.InputSize values.
func Normalize(img *image.NRGBA, c Contract) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() != model.ImageSize || b.Dy() != model.ImageSize {
		return nil, &model.ShapeError{
			Stage: "normalize",
			Want:  fmt.Sprintf("%dx%d", model.ImageSize, model.ImageSize),
			Got:   fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		}
	}

	minA, maxA := alphaRange(img)
	stretch := c.StretchAlpha && maxA > minA

	bgR, bgG, bgB := float64(c.Background.R), float64(c.Background.G), float64(c.Background.B)
	out := make([]float32, 0, model.InputSize)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			p := img.Pix[i : i+4 : i+4]

			a := float64(p[3])
			if stretch {
				a = (a - minA) / (maxA - minA) * 255
			}
			alpha := a / 255

			r := bgR + (float64(p[0])-bgR)*alpha
			g := bgG + (float64(p[1])-bgG)*alpha
			bl := bgB + (float64(p[2])-bgB)*alpha

			l := math.Min(255, math.Max(0, lumaR*r+lumaG*g+lumaB*bl))
			if c.Invert {
				l = 255 - l
			}
			out = append(out, float32(l/255)*c.Scale+c.Offset)
		}
	}
	return out, nil
}

func alphaRange(img *image.NRGBA) (lo, hi float64) {
	b := img.Bounds()
	minA, maxA := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			a := img.Pix[img.PixOffset(x, y)+3]
			if a < minA {
				minA = a
			}
			if a > maxA {
				maxA = a
			}
		}
	}
	return float64(minA), float64(maxA)
}
