package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/veil/internal/redact"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// ProcessImage redacts a still image and returns the number of faces found.
// The output format follows outputPath's extension.
func (s *Session) ProcessImage(ctx context.Context, inputPath, outputPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	logger := s.logger.WithFields(logrus.Fields{"input": inputPath, "output": outputPath})

	// Camera images are stored sideways with an EXIF hint; apply it so the
	// detector sees upright faces.
	src, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrDecode, inputPath, err)
	}
	frame := imaging.Clone(src)

	out, boxes, err := s.redactFrame(frame)
	if err != nil {
		return 0, err
	}

	s.hooks.outputStarted(outputPath)
	if err := imaging.Save(out, outputPath); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrEncode, outputPath, err)
	}

	if s.debugDir != "" {
		s.saveSnapshot(out, boxes, debugName(inputPath, 0))
	}

	logger.WithField("faces", len(boxes)).Info("Image redacted")
	return len(boxes), nil
}

func debugName(inputPath string, index int) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return fmt.Sprintf("%s_frame_%06d.jpg", base, index)
}

// saveSnapshot writes an annotated copy of a redacted frame. Failures are
// logged, never returned: snapshots are diagnostics only.
func (s *Session) saveSnapshot(frame *image.NRGBA, boxes []types.FaceBox, name string) {
	path := filepath.Join(s.debugDir, name)
	if err := os.MkdirAll(s.debugDir, 0755); err != nil {
		s.logger.WithError(err).WithField("path", s.debugDir).Warn("Failed to create debug directory")
		return
	}
	if err := imaging.Save(redact.Annotate(frame, boxes), path); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to save debug snapshot")
	}
}
