package utils

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
)

// FFmpegReader yields decoded frames from an ffmpeg rawvideo pipe.
type FFmpegReader struct {
	cmd    *SafeCommand
	out    io.ReadCloser
	frame  *image.NRGBA
	done   bool
	closed bool
}

// OpenFFmpegReader starts a decoder for inputPath. info must come from GetVideoInfo
// on the same file.
func OpenFFmpegReader(ctx context.Context, inputPath string, info VideoInfo) (*FFmpegReader, error) {
	decoder := NewFFmpegRawDecoder(ctx, inputPath)
	out, err := decoder.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return newFFmpegReader(decoder, out, info), nil
}

func newFFmpegReader(cmd *SafeCommand, out io.ReadCloser, info VideoInfo) *FFmpegReader {
	return &FFmpegReader{
		cmd:   cmd,
		out:   out,
		frame: image.NewNRGBA(image.Rect(0, 0, info.Width, info.Height)),
	}
}

// ReadFrame returns the next frame, or io.EOF after the last one.
// The returned image is reused by the next call.
func (r *FFmpegReader) ReadFrame() (*image.NRGBA, error) {
	if r.done {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.out, r.frame.Pix); err != nil {
		r.done = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	return r.frame, nil
}

// Close stops the decoder. After a complete read it reports the decoder's exit
// status; when closed early the decoder is killed and its status ignored.
func (r *FFmpegReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.cmd == nil {
		return r.out.Close()
	}
	if !r.done && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
		_ = r.cmd.Wait()
		return nil
	}
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("decoder process failed: %w (%s)", err, strings.TrimSpace(r.cmd.Logs()))
	}
	return nil
}

// FFmpegWriter encodes frames by piping them into ffmpeg.
type FFmpegWriter struct {
	cmd    *SafeCommand
	in     io.WriteCloser
	width  int
	height int
	closed bool
}

// OpenFFmpegWriter starts an encoder writing outputPath with info's size and rate.
func OpenFFmpegWriter(ctx context.Context, outputPath string, info VideoInfo, codec string) (*FFmpegWriter, error) {
	encoder := NewFFmpegEncoder(ctx, outputPath, info, codec)
	in, err := encoder.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := encoder.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return newFFmpegWriter(encoder, in, info), nil
}

func newFFmpegWriter(cmd *SafeCommand, in io.WriteCloser, info VideoInfo) *FFmpegWriter {
	return &FFmpegWriter{cmd: cmd, in: in, width: info.Width, height: info.Height}
}

// WriteFrame sends one frame to the encoder. The frame must match the
// encoder's dimensions exactly.
func (w *FFmpegWriter) WriteFrame(frame *image.NRGBA) error {
	b := frame.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), w.width, w.height)
	}

	rowLen := w.width * 4
	if frame.Stride == rowLen && b.Min == (image.Point{}) {
		_, err := w.in.Write(frame.Pix[:rowLen*w.height])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := frame.PixOffset(b.Min.X, y)
		if _, err := w.in.Write(frame.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the encoder and waits for the container to be finalized.
func (w *FFmpegWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	closeErr := w.in.Close()
	if w.cmd == nil {
		return closeErr
	}
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder process failed: %w (%s)", err, strings.TrimSpace(w.cmd.Logs()))
	}
	return nil
}
