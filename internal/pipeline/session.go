// Package pipeline drives detection and redaction over whole images and videos.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/veil/internal/detect"
	"github.com/andresmejia3/veil/internal/redact"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/sirupsen/logrus"
)

// FaceCountSampleInterval sets which video frames contribute to the reported
// face count: only frames whose 0-based index is a multiple of it. Every frame
// is still detected and redacted; the count is an estimate that stays cheap
// to report on long videos.
const FaceCountSampleInterval = 10

// CountsFrame reports whether frame index contributes to the video face count.
func CountsFrame(index int) bool {
	return index%FaceCountSampleInterval == 0
}

// Hooks let a caller observe video progress. All fields are optional.
type Hooks struct {
	// VideoStarted is called once the source has been probed.
	VideoStarted func(info utils.VideoInfo)
	// FrameDone is called after each frame has been written.
	FrameDone func(index, faces int)
	// OutputStarted is called just before the output file is first created
	// or truncated. Until then a failed call has not touched the output path.
	OutputStarted func(path string)
}

func (h Hooks) outputStarted(path string) {
	if h.OutputStarted != nil {
		h.OutputStarted(path)
	}
}

// Options configures one Session.
type Options struct {
	Effect     types.EffectConfig
	Model      types.Model
	CascadeDir string
	// VideoCodec is the ffmpeg encoder name; empty means utils.DefaultVideoCodec.
	VideoCodec string
	// DebugDir, when set, receives annotated snapshots of sampled frames.
	DebugDir string

	// Detector overrides the cascade loaded from CascadeDir.
	Detector detect.Detector
	// Codec overrides the ffmpeg video codec.
	Codec  VideoCodec
	Logger logrus.FieldLogger
	Hooks  Hooks
}

// Session holds the state of one redaction request: the validated effect and
// one loaded detector. Sessions are never shared between requests.
type Session struct {
	effect   types.EffectConfig
	filter   redact.Filter
	model    types.Model
	detector detect.Detector
	codec    VideoCodec
	debugDir string
	hooks    Hooks
	logger   logrus.FieldLogger
}

// NewSession validates the effect before anything else, then loads the
// detection model. It fails with types.ErrInvalidEffect or types.ErrModelLoad.
func NewSession(opts Options) (*Session, error) {
	filter, err := redact.FilterFor(opts.Effect)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	detector := opts.Detector
	if detector == nil {
		detector, err = detect.Open(detect.Config{CascadeDir: opts.CascadeDir, Model: opts.Model})
		if err != nil {
			return nil, err
		}
	}

	codec := opts.Codec
	if codec == nil {
		codec = FFmpegCodec{Codec: opts.VideoCodec}
	}

	return &Session{
		effect:   opts.Effect,
		filter:   filter,
		model:    opts.Model,
		detector: detector,
		codec:    codec,
		debugDir: opts.DebugDir,
		hooks:    opts.Hooks,
		logger: logger.WithFields(logrus.Fields{
			"effect": opts.Effect.Effect,
			"model":  opts.Model.String(),
		}),
	}, nil
}

// Close releases the detector.
func (s *Session) Close() error {
	return s.detector.Close()
}

var (
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

// KindOf classifies a path by extension. ok is false for unsupported types.
func KindOf(path string) (types.MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExtensions[ext]:
		return types.KindImage, true
	case videoExtensions[ext]:
		return types.KindVideo, true
	default:
		return "", false
	}
}

// Process redacts inputPath into outputPath, choosing the image or video path
// by the input's extension.
func (s *Session) Process(ctx context.Context, inputPath, outputPath string) (types.ProcessingResult, error) {
	kind, ok := KindOf(inputPath)
	if !ok {
		return types.ProcessingResult{}, fmt.Errorf("%w: unsupported media type %q", types.ErrDecode, filepath.Ext(inputPath))
	}

	var faces int
	var err error
	if kind == types.KindImage {
		faces, err = s.ProcessImage(ctx, inputPath, outputPath)
	} else {
		faces, err = s.ProcessVideo(ctx, inputPath, outputPath)
	}
	if err != nil {
		return types.ProcessingResult{}, err
	}
	return types.ProcessingResult{FacesDetected: faces, OutputPath: outputPath, Kind: kind}, nil
}

// Run builds a Session from opts, processes one file and releases the Session.
func Run(ctx context.Context, opts Options, inputPath, outputPath string) (types.ProcessingResult, error) {
	s, err := NewSession(opts)
	if err != nil {
		return types.ProcessingResult{}, err
	}
	defer s.Close()
	return s.Process(ctx, inputPath, outputPath)
}

// redactFrame detects and redacts one frame.
func (s *Session) redactFrame(frame image.Image) (*image.NRGBA, []types.FaceBox, error) {
	boxes, err := s.detector.Detect(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("face detection failed: %w", err)
	}
	return redact.ApplyFilter(frame, boxes, s.filter), boxes, nil
}
