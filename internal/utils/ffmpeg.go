package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 2. Video Engine ---

// VideoInfo describes the first video stream of a container.
type VideoInfo struct {
	Width  int
	Height int
	// FrameRate is the exact rational reported by ffprobe, e.g. "30000/1001".
	// It is handed to the encoder untouched so the output rate matches bit for bit.
	FrameRate string
	FPS       float64
	// TotalFrames is 0 when the container does not say.
	TotalFrames int
}

// DefaultVideoCodec matches the mp4v fourcc most players accept in mp4, avi and mov.
const DefaultVideoCodec = "mpeg4"

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// GetVideoInfo probes the first video stream with ffprobe.
func GetVideoInfo(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return VideoInfo{}, err
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w (%s)", err, strings.TrimSpace(cmd.Logs()))
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	// r_frame_rate is the stream's base rate and keeps a small denominator
	// (mpeg4 rejects time bases above 65535). avg_frame_rate is the fallback
	// for streams that leave it as 0/0.
	rate := s.RFrameRate
	fps, err := ParseFrameRate(rate)
	if err != nil {
		rate = s.AvgFrameRate
		fps, err = ParseFrameRate(rate)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("unable to determine frame rate: %w", err)
		}
	}

	total, _ := strconv.Atoi(s.NbFrames)
	return VideoInfo{
		Width:       s.Width,
		Height:      s.Height,
		FrameRate:   rate,
		FPS:         fps,
		TotalFrames: total,
	}, nil
}

// ParseFrameRate parses "num/den" or a plain decimal. Zero rates are rejected.
func ParseFrameRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	num, den, isRatio := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	d := 1.0
	if isRatio {
		d, err = strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q", rate)
		}
	}
	if n <= 0 || d <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// NewFFmpegRawDecoder decodes the first video stream to packed RGBA frames on stdout.
// Autorotation is disabled so frames keep the dimensions ffprobe reported.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-noautorotate", "-i", inputPath,
		"-map", "0:v:0", "-an",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder reads packed RGBA frames from stdin and writes outputPath
// with exactly the given size and frame rate. Audio is not carried over.
func NewFFmpegEncoder(ctx context.Context, outputPath string, info VideoInfo, codec string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", encoderArgs(outputPath, info, codec)...)
}

func encoderArgs(outputPath string, info VideoInfo, codec string) []string {
	if codec == "" {
		codec = DefaultVideoCodec
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-framerate", info.FrameRate,
		"-i", "-",
		"-an", "-c:v", codec,
	}
	if codec == DefaultVideoCodec {
		args = append(args, "-q:v", "2")
	}
	return append(args, "-pix_fmt", "yuv420p", "-r", info.FrameRate, outputPath)
}

// CheckInstallation verifies ffmpeg and ffprobe are reachable.
func CheckInstallation() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s is not installed or not in PATH: %w", bin, err)
		}
	}
	return nil
}
