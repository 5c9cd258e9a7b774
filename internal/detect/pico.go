//go:build !with_cv

package detect

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
)

// Backend names the detection engine compiled into this binary.
const Backend = "pico"

// shiftFactor is the scan stride as a fraction of the window size.
const shiftFactor = 0.1

type picoDetector struct {
	classifier *pigo.Pigo
	tuning     Tuning
	minSize    int
}

// CascadeFile is the file openBackend loads for m, relative to the cascade directory.
func CascadeFile(m types.Model) string {
	return PicoFile
}

// SharesCascade reports whether m reuses another model's cascade and only
// differs from it in Tuning. Pigo has a single frontal cascade, so every
// model but the default is a retuned copy of it.
func SharesCascade(m types.Model) bool {
	return m != types.ModelFrontalDefault
}

func openBackend(cfg Config) (Detector, error) {
	path := filepath.Join(cfg.CascadeDir, CascadeFile(cfg.Model))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrModelLoad, path, err)
	}

	classifier, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", types.ErrModelLoad, path, err)
	}

	return &picoDetector{
		classifier: classifier,
		tuning:     TuningFor(cfg.Model),
		minSize:    cfg.MinSize,
	}, nil
}

// unpack reads the tree count, depth, thresholds and leaf predictions.
// pigo indexes the packet without bounds checks, so a truncated file panics.
func unpack(data []byte) (classifier *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(data)
}

func (d *picoDetector) Detect(frame image.Image) ([]types.FaceBox, error) {
	src, ok := frame.(*image.NRGBA)
	if !ok || src.Bounds().Min != (image.Point{}) {
		src = imaging.Clone(frame)
	}
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return []types.FaceBox{}, nil
	}

	params := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: shiftFactor,
		ScaleFactor: d.tuning.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// Row, column, scale and score of every window that passed the cascade.
	raw := d.classifier.RunCascade(params, 0.0)

	cands := make([]candidate, len(raw))
	for i, det := range raw {
		cands[i] = candidate{Row: det.Row, Col: det.Col, Scale: det.Scale, Q: det.Q}
	}
	return clipAll(groupCandidates(cands, d.tuning.MinNeighbors), frameRect(src)), nil
}

func (d *picoDetector) Close() error {
	d.classifier = nil
	return nil
}
