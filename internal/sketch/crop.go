package sketch

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// ContentBounds returns the tightest rectangle holding every pixel with
// non-zero alpha. ok is false for a blank canvas.
func ContentBounds(img *image.NRGBA) (box image.Rectangle, ok bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.Pix[row+(x-b.Min.X)*4+3] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x >= maxX {
				maxX = x + 1
			}
			if y < minY {
				minY = y
			}
			if y >= maxY {
				maxY = y + 1
			}
		}
	}

	if minX >= maxX || minY >= maxY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX, maxY), true
}

// CropAndResize crops img to its content and stretches the result to the
// network's 28x28 grid with bilinear resampling. Aspect ratio is not kept,
// matching how the training bitmaps were produced. A blank canvas keeps its
// full extent.
func CropAndResize(img *image.NRGBA) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, &model.ShapeError{
			Stage: "crop",
			Want:  "non-empty image",
			Got:   fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		}
	}

	box, ok := ContentBounds(img)
	if !ok {
		box = b
	}

	cropped := imaging.Crop(img, box)
	resized := resize.Resize(model.ImageSize, model.ImageSize, cropped, resize.Bilinear)
	return imaging.Clone(resized), nil
}
