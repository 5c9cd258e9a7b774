package types

import (
	"fmt"
	"image"
	"strings"
)

// FaceBox is an axis-aligned face rectangle in pixel coordinates of the
// frame it was detected in. Origin is top-left.
type FaceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b FaceBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// BoxFromRect is the inverse of Rect.
func BoxFromRect(r image.Rectangle) FaceBox {
	return FaceBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// ClipBox intersects a box with the frame bounds. ok is false when nothing is left.
func ClipBox(b FaceBox, bounds image.Rectangle) (FaceBox, bool) {
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return FaceBox{}, false
	}
	return BoxFromRect(r), true
}

// Model selects one of the pretrained cascade variants.
type Model int

const (
	ModelFrontalDefault Model = iota
	ModelFrontalAlt
	ModelFrontalAlt2
	ModelProfile
)

// Models lists every variant in display order.
var Models = []Model{ModelFrontalDefault, ModelFrontalAlt, ModelFrontalAlt2, ModelProfile}

func (m Model) String() string {
	switch m {
	case ModelFrontalAlt:
		return "frontal_alt"
	case ModelFrontalAlt2:
		return "frontal_alt2"
	case ModelProfile:
		return "profile"
	default:
		return "frontal_default"
	}
}

// ExternalName is the name callers use to request the model (haar_*).
func (m Model) ExternalName() string {
	switch m {
	case ModelFrontalAlt:
		return "haar_alt"
	case ModelFrontalAlt2:
		return "haar_alt2"
	case ModelProfile:
		return "haar_profile"
	default:
		return "haar_default"
	}
}

// ParseModel maps a requested model name to a variant.
// Unknown names fall back to ModelFrontalDefault.
func ParseModel(name string) Model {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "haar_alt", "frontal_alt":
		return ModelFrontalAlt
	case "haar_alt2", "frontal_alt2":
		return ModelFrontalAlt2
	case "haar_profile", "profile":
		return ModelProfile
	default:
		return ModelFrontalDefault
	}
}

// Effect is the transform applied to each face region.
type Effect string

const (
	EffectBlur     Effect = "blur"
	EffectPixelate Effect = "pixelate"
)

// Valid reports whether e names a known transform.
func (e Effect) Valid() bool {
	return e == EffectBlur || e == EffectPixelate
}

// ParseEffect validates an effect name.
func ParseEffect(name string) (Effect, error) {
	e := Effect(strings.ToLower(strings.TrimSpace(name)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q (must be blur or pixelate)", ErrInvalidEffect, name)
	}
	return e, nil
}

// EffectConfig carries the selected transform and its raw strengths.
// Normalization happens in KernelSize and PixelDivisor.
type EffectConfig struct {
	Effect       Effect
	BlurStrength int
	PixelSize    int
}

// KernelSize returns the Gaussian kernel size: always a positive odd integer.
func (c EffectConfig) KernelSize() int {
	return NormalizeKernel(c.BlurStrength)
}

// PixelDivisor returns the pixelation block size, clamped to at least 1.
func (c EffectConfig) PixelDivisor() int {
	if c.PixelSize < 1 {
		return 1
	}
	return c.PixelSize
}

// NormalizeKernel computes max(1, s) | 1.
func NormalizeKernel(s int) int {
	if s < 1 {
		s = 1
	}
	return s | 1
}

// MediaKind tells images and videos apart.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// ProcessingResult is what a redaction call hands back to its caller.
type ProcessingResult struct {
	FacesDetected int       `json:"faces_detected"`
	OutputPath    string    `json:"output_path"`
	Kind          MediaKind `json:"kind"`
}
