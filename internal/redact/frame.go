// Package redact rewrites face regions of a frame so they can no longer be recognized.
package redact

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/disintegration/imaging"
)

// Filter transforms one face region into a region of the same size.
type Filter func(region *image.NRGBA) *image.NRGBA

// FilterFor resolves the configured effect into a Filter with its strength
// already normalized.
func FilterFor(cfg types.EffectConfig) (Filter, error) {
	switch cfg.Effect {
	case types.EffectBlur:
		k := cfg.KernelSize()
		return func(region *image.NRGBA) *image.NRGBA { return GaussianBlur(region, k) }, nil
	case types.EffectPixelate:
		p := cfg.PixelDivisor()
		return func(region *image.NRGBA) *image.NRGBA { return Pixelate(region, p) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidEffect, cfg.Effect)
	}
}

// Apply returns a copy of frame with every box redacted. The input frame is
// not modified. Boxes are clipped to the frame; where boxes overlap the box
// applied last wins.
func Apply(frame image.Image, boxes []types.FaceBox, cfg types.EffectConfig) (*image.NRGBA, error) {
	filter, err := FilterFor(cfg)
	if err != nil {
		return nil, err
	}
	return ApplyFilter(frame, boxes, filter), nil
}

// ApplyFilter is Apply with a pre-resolved filter, for callers that process
// many frames with the same configuration.
func ApplyFilter(frame image.Image, boxes []types.FaceBox, filter Filter) *image.NRGBA {
	out := imaging.Clone(frame)
	bounds := out.Bounds()

	for _, box := range boxes {
		clipped, ok := types.ClipBox(box, bounds)
		if !ok {
			continue
		}
		rect := clipped.Rect()
		region := imaging.Crop(out, rect)
		draw.Draw(out, rect, filter(region), image.Point{}, draw.Src)
	}
	return out
}
