//go:build with_cv

package detect

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/andresmejia3/veil/internal/types"
	"gocv.io/x/gocv"
)

// Backend names the detection engine compiled into this binary.
const Backend = "opencv"

type haarDetector struct {
	classifier gocv.CascadeClassifier
	tuning     Tuning
	minSize    int
}

// CascadeFile is the file openBackend loads for m, relative to the cascade directory.
func CascadeFile(m types.Model) string {
	return HaarFile(m)
}

// SharesCascade reports whether m reuses another model's cascade. Every
// model has its own Haar file here.
func SharesCascade(m types.Model) bool {
	return false
}

func openBackend(cfg Config) (Detector, error) {
	path := filepath.Join(cfg.CascadeDir, CascadeFile(cfg.Model))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrModelLoad, path, err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%w: error reading cascade file %s", types.ErrModelLoad, path)
	}

	return &haarDetector{
		classifier: classifier,
		tuning:     TuningFor(cfg.Model),
		minSize:    cfg.MinSize,
	}, nil
}

func (d *haarDetector) Detect(frame image.Image) ([]types.FaceBox, error) {
	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	rects := d.classifier.DetectMultiScaleWithParams(
		gray,
		d.tuning.ScaleFactor,
		d.tuning.MinNeighbors,
		0,
		image.Pt(d.minSize, d.minSize),
		image.Point{},
	)

	// Mat coordinates start at 0,0 regardless of frame.Bounds().Min.
	return clipAll(rects, frameRect(frame)), nil
}

func (d *haarDetector) Close() error {
	return d.classifier.Close()
}
