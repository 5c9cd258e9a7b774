package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/sirupsen/logrus"
)

// FrameReader is a finite, non-restartable sequence of decoded frames.
type FrameReader interface {
	// ReadFrame returns the next frame or io.EOF. The frame may be reused by
	// the following call.
	ReadFrame() (*image.NRGBA, error)
	Close() error
}

// FrameWriter consumes frames in order and produces a container on Close.
type FrameWriter interface {
	WriteFrame(frame *image.NRGBA) error
	Close() error
}

// VideoCodec opens sources and destinations for the video path.
type VideoCodec interface {
	Probe(ctx context.Context, path string) (utils.VideoInfo, error)
	OpenReader(ctx context.Context, path string, info utils.VideoInfo) (FrameReader, error)
	OpenWriter(ctx context.Context, path string, info utils.VideoInfo) (FrameWriter, error)
}

// FFmpegCodec runs ffprobe and ffmpeg subprocesses.
type FFmpegCodec struct {
	// Codec is the ffmpeg encoder name; empty means utils.DefaultVideoCodec.
	Codec string
}

func (c FFmpegCodec) Probe(ctx context.Context, path string) (utils.VideoInfo, error) {
	return utils.GetVideoInfo(ctx, path)
}

func (c FFmpegCodec) OpenReader(ctx context.Context, path string, info utils.VideoInfo) (FrameReader, error) {
	return utils.OpenFFmpegReader(ctx, path, info)
}

func (c FFmpegCodec) OpenWriter(ctx context.Context, path string, info utils.VideoInfo) (FrameWriter, error) {
	return utils.OpenFFmpegWriter(ctx, path, info, c.Codec)
}

// ProcessVideo redacts every frame of a video and returns the sampled face
// count (see FaceCountSampleInterval). The output keeps the source's width,
// height and frame rate. Decoder and encoder are released on every path.
func (s *Session) ProcessVideo(ctx context.Context, inputPath, outputPath string) (int, error) {
	logger := s.logger.WithFields(logrus.Fields{"input": inputPath, "output": outputPath})

	info, err := s.codec.Probe(ctx, inputPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrDecode, inputPath, err)
	}
	logger.WithFields(logrus.Fields{
		"width":  info.Width,
		"height": info.Height,
		"rate":   info.FrameRate,
		"frames": info.TotalFrames,
	}).Debug("Video probed")

	reader, err := s.codec.OpenReader(ctx, inputPath, info)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrDecode, inputPath, err)
	}
	defer func() {
		if reader != nil {
			reader.Close()
		}
	}()

	s.hooks.outputStarted(outputPath)
	writer, err := s.codec.OpenWriter(ctx, outputPath, info)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrEncode, outputPath, err)
	}
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	if s.hooks.VideoStarted != nil {
		s.hooks.VideoStarted(info)
	}

	total := 0
	index := 0
	for ; ; index++ {
		frame, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: frame %d: %v", types.ErrDecode, index, err)
		}

		out, boxes, err := s.redactFrame(frame)
		if err != nil {
			return 0, fmt.Errorf("frame %d: %w", index, err)
		}
		if err := writer.WriteFrame(out); err != nil {
			return 0, fmt.Errorf("%w: frame %d: %v", types.ErrEncode, index, err)
		}

		if CountsFrame(index) {
			total += len(boxes)
			if s.debugDir != "" {
				s.saveSnapshot(out, boxes, debugName(inputPath, index))
			}
		}
		if s.hooks.FrameDone != nil {
			s.hooks.FrameDone(index, len(boxes))
		}
	}

	w := writer
	writer = nil
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrEncode, outputPath, err)
	}
	r := reader
	reader = nil
	if err := r.Close(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrDecode, inputPath, err)
	}

	logger.WithFields(logrus.Fields{
		"frames": index,
		"faces":  total,
	}).Info("Video redacted")
	return total, nil
}
