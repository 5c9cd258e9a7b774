package redact

import (
	"image"

	"github.com/disintegration/imaging"
)

// Pixelate shrinks the region by pixelSize with smooth resampling and blows it
// back up with nearest-neighbor, leaving pixelSize-wide blocks.
// pixelSize below 1 is treated as 1.
func Pixelate(region *image.NRGBA, pixelSize int) *image.NRGBA {
	if pixelSize < 1 {
		pixelSize = 1
	}
	w, h := region.Bounds().Dx(), region.Bounds().Dy()
	if w == 0 || h == 0 {
		return image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	smallW := max(1, w/pixelSize)
	smallH := max(1, h/pixelSize)

	small := imaging.Resize(region, smallW, smallH, imaging.Linear)
	return imaging.Resize(small, w, h, imaging.NearestNeighbor)
}
