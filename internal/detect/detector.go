// Package detect finds face rectangles in decoded frames.
//
// The default build uses a pure-Go pixel-comparison cascade (pigo). Building
// with -tags with_cv switches to OpenCV Haar cascades through gocv.
package detect

import (
	"image"

	"github.com/andresmejia3/veil/internal/types"
)

// Detector turns a color frame into face boxes. A Detector holds one loaded
// model and is not safe for concurrent use.
type Detector interface {
	// Detect returns the faces found in frame, clipped to its bounds.
	// Boxes are relative to the frame's top-left pixel, so a frame whose
	// Bounds().Min is not (0,0) still yields boxes starting at (0,0).
	// An empty slice is a valid result.
	Detect(frame image.Image) ([]types.FaceBox, error)

	// Close releases the loaded cascade.
	Close() error
}

// Tuning controls the multi-scale scan.
type Tuning struct {
	// ScaleFactor is the step between successive window sizes.
	ScaleFactor float64
	// MinNeighbors is how many overlapping raw hits confirm a face.
	MinNeighbors int
}

// TuningFor returns the scan parameters for a model. Profile faces are
// harder to find, so the profile model scans coarser and accepts weaker groups.
func TuningFor(m types.Model) Tuning {
	if m == types.ModelProfile {
		return Tuning{ScaleFactor: 1.2, MinNeighbors: 3}
	}
	return Tuning{ScaleFactor: 1.1, MinNeighbors: 4}
}

// Config selects the model and where its cascade files live.
type Config struct {
	CascadeDir string
	Model      types.Model
	// MinSize is the smallest face side in pixels. Zero means DefaultMinSize.
	MinSize int
}

// DefaultMinSize is the smallest face side scanned when Config.MinSize is zero.
const DefaultMinSize = 20

// Open loads the cascade for cfg.Model. A missing or corrupt cascade file
// yields types.ErrModelLoad.
func Open(cfg Config) (Detector, error) {
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	return openBackend(cfg)
}

// HaarFile is the OpenCV cascade file loaded for a model by the with_cv backend.
func HaarFile(m types.Model) string {
	switch m {
	case types.ModelFrontalAlt:
		return "haarcascade_frontalface_alt.xml"
	case types.ModelFrontalAlt2:
		return "haarcascade_frontalface_alt2.xml"
	case types.ModelProfile:
		return "haarcascade_profileface.xml"
	default:
		return "haarcascade_frontalface_default.xml"
	}
}

// PicoFile is the pigo cascade file. Pigo ships one face cascade, so every
// model loads it and differs only in Tuning.
const PicoFile = "facefinder"

// frameRect is frame's bounds translated to start at (0,0).
func frameRect(frame image.Image) image.Rectangle {
	b := frame.Bounds()
	return image.Rect(0, 0, b.Dx(), b.Dy())
}

func clipAll(rects []image.Rectangle, bounds image.Rectangle) []types.FaceBox {
	boxes := make([]types.FaceBox, 0, len(rects))
	for _, r := range rects {
		if box, ok := types.ClipBox(types.BoxFromRect(r), bounds); ok {
			boxes = append(boxes, box)
		}
	}
	return boxes
}
