package redact

import (
	"fmt"
	"image"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/fogleman/gg"
)

// Annotate draws an outline and an index label for every box on a copy of frame.
// Used for debug snapshots.
func Annotate(frame image.Image, boxes []types.FaceBox) image.Image {
	dc := gg.NewContextForImage(frame)
	dc.SetLineWidth(3)

	for i, b := range boxes {
		dc.SetRGB(1, 0, 0)
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()

		label := fmt.Sprintf("#%d", i)
		dc.SetRGB(1, 1, 0)
		dc.DrawStringAnchored(label, float64(b.X)+2, float64(b.Y)+2, 0, 1)
	}
	return dc.Image()
}
