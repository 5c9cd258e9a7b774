package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDetector returns the same boxes for every frame.
type fakeDetector struct {
	boxes  []types.FaceBox
	calls  int
	closed bool
}

func (d *fakeDetector) Detect(frame image.Image) ([]types.FaceBox, error) {
	d.calls++
	return d.boxes, nil
}

func (d *fakeDetector) Close() error {
	d.closed = true
	return nil
}

type fakeReader struct {
	frames []*image.NRGBA
	pos    int
	failAt int
	closed bool
}

func (r *fakeReader) ReadFrame() (*image.NRGBA, error) {
	if r.failAt > 0 && r.pos == r.failAt {
		return nil, errors.New("corrupt packet")
	}
	if r.pos >= len(r.frames) {
		return nil, io.EOF
	}
	f := r.frames[r.pos]
	r.pos++
	return f, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	info   utils.VideoInfo
	frames []*image.NRGBA
	closed bool
}

func (w *fakeWriter) WriteFrame(frame *image.NRGBA) error {
	w.frames = append(w.frames, imaging.Clone(frame))
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeCodec struct {
	info      utils.VideoInfo
	reader    *fakeReader
	writer    *fakeWriter
	probeErr  error
	writerErr error
	opened    int
}

func (c *fakeCodec) Probe(ctx context.Context, path string) (utils.VideoInfo, error) {
	return c.info, c.probeErr
}

func (c *fakeCodec) OpenReader(ctx context.Context, path string, info utils.VideoInfo) (FrameReader, error) {
	c.opened++
	return c.reader, nil
}

func (c *fakeCodec) OpenWriter(ctx context.Context, path string, info utils.VideoInfo) (FrameWriter, error) {
	c.opened++
	if c.writerErr != nil {
		return nil, c.writerErr
	}
	c.writer.info = info
	return c.writer, nil
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func gradientFrame(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: uint8((x ^ y) * 3), A: 255})
		}
	}
	return img
}

func newFakeVideo(n, w, h int) *fakeCodec {
	frames := make([]*image.NRGBA, n)
	for i := range frames {
		frames[i] = gradientFrame(w, h)
	}
	return &fakeCodec{
		info:   utils.VideoInfo{Width: w, Height: h, FrameRate: "30000/1001", FPS: 29.97, TotalFrames: n},
		reader: &fakeReader{frames: frames},
		writer: &fakeWriter{},
	}
}

func newTestSession(t *testing.T, effect types.Effect, det *fakeDetector, codec VideoCodec) *Session {
	t.Helper()
	s, err := NewSession(Options{
		Effect:   types.EffectConfig{Effect: effect, BlurStrength: 51, PixelSize: 20},
		Detector: det,
		Codec:    codec,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestCountsFrame(t *testing.T) {
	var counted []int
	for i := 0; i < 25; i++ {
		if CountsFrame(i) {
			counted = append(counted, i)
		}
	}
	assert.Equal(t, []int{0, 10, 20}, counted)
}

func TestProcessVideoSamplesFaceCount(t *testing.T) {
	codec := newFakeVideo(25, 32, 24)
	det := &fakeDetector{boxes: []types.FaceBox{{X: 4, Y: 4, Width: 10, Height: 10}}}
	s := newTestSession(t, types.EffectBlur, det, codec)

	faces, err := s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.NoError(t, err)

	// Sampled at frames 0, 10 and 20 only.
	assert.Equal(t, 3, faces)
	// Every frame is still detected and written.
	assert.Equal(t, 25, det.calls)
	assert.Len(t, codec.writer.frames, 25)
}

func TestProcessVideoKeepsSizeAndRate(t *testing.T) {
	codec := newFakeVideo(3, 33, 17)
	s := newTestSession(t, types.EffectPixelate, &fakeDetector{}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.mov", "out.mov")
	require.NoError(t, err)

	assert.Equal(t, codec.info, codec.writer.info)
	for _, f := range codec.writer.frames {
		assert.Equal(t, image.Pt(33, 17), f.Bounds().Size())
	}
}

func TestProcessVideoRedactsEveryFrame(t *testing.T) {
	codec := newFakeVideo(12, 40, 40)
	box := types.FaceBox{X: 5, Y: 5, Width: 20, Height: 20}
	s := newTestSession(t, types.EffectPixelate, &fakeDetector{boxes: []types.FaceBox{box}}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.NoError(t, err)

	orig := gradientFrame(40, 40)
	for i, f := range codec.writer.frames {
		assert.False(t, bytes.Equal(orig.Pix, f.Pix), "frame %d was not redacted", i)
		assert.Equal(t, orig.NRGBAAt(39, 39), f.NRGBAAt(39, 39), "frame %d changed outside the box", i)
	}
}

func TestProcessVideoReleasesOnSuccess(t *testing.T) {
	codec := newFakeVideo(2, 8, 8)
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.avi", "out.avi")
	require.NoError(t, err)
	assert.True(t, codec.reader.closed)
	assert.True(t, codec.writer.closed)
}

func TestProcessVideoDecodeErrorMidStream(t *testing.T) {
	codec := newFakeVideo(5, 8, 8)
	codec.reader.failAt = 3
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDecode))
	assert.True(t, codec.reader.closed)
	assert.True(t, codec.writer.closed)
}

func TestProcessVideoProbeFailure(t *testing.T) {
	codec := newFakeVideo(1, 8, 8)
	codec.probeErr = errors.New("moov atom not found")
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDecode))
	assert.Zero(t, codec.opened)
}

func TestProcessVideoEncoderOpenFailure(t *testing.T) {
	codec := newFakeVideo(1, 8, 8)
	codec.writerErr = errors.New("permission denied")
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, codec)

	_, err := s.ProcessVideo(context.Background(), "in.mp4", "/root/out.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEncode))
	assert.True(t, codec.reader.closed, "decoder must be released when the encoder fails")
}

func TestProcessVideoHooks(t *testing.T) {
	codec := newFakeVideo(4, 8, 8)
	var started utils.VideoInfo
	var done []int

	s, err := NewSession(Options{
		Effect:   types.EffectConfig{Effect: types.EffectBlur, BlurStrength: 3},
		Detector: &fakeDetector{},
		Codec:    codec,
		Logger:   testLogger(),
		Hooks: Hooks{
			VideoStarted: func(info utils.VideoInfo) { started = info },
			FrameDone:    func(index, faces int) { done = append(done, index) },
		},
	})
	require.NoError(t, err)

	_, err = s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.NoError(t, err)
	assert.Equal(t, codec.info, started)
	assert.Equal(t, []int{0, 1, 2, 3}, done)
}

func TestInvalidEffectFailsBeforeAnyWork(t *testing.T) {
	for _, input := range []string{"in.png", "in.mp4"} {
		codec := newFakeVideo(3, 8, 8)
		det := &fakeDetector{}
		out := filepath.Join(t.TempDir(), "out"+filepath.Ext(input))

		_, err := Run(context.Background(), Options{
			Effect:   types.EffectConfig{Effect: "sepia"},
			Detector: det,
			Codec:    codec,
			Logger:   testLogger(),
		}, input, out)

		require.Error(t, err, input)
		assert.True(t, errors.Is(err, types.ErrInvalidEffect), input)
		assert.Zero(t, codec.opened, input)
		assert.Zero(t, det.calls, input)
		assert.NoFileExists(t, out)
	}
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestProcessImage(t *testing.T) {
	src := gradientFrame(64, 48)
	in := writePNG(t, src)
	out := filepath.Join(t.TempDir(), "out.png")

	box := types.FaceBox{X: 10, Y: 10, Width: 30, Height: 20}
	det := &fakeDetector{boxes: []types.FaceBox{box}}
	s := newTestSession(t, types.EffectPixelate, det, nil)

	faces, err := s.ProcessImage(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, faces)
	assert.Equal(t, 1, det.calls)

	got, err := imaging.Open(out)
	require.NoError(t, err)
	gotN := imaging.Clone(got)
	assert.Equal(t, src.Bounds(), gotN.Bounds())
	assert.Equal(t, src.NRGBAAt(0, 0), gotN.NRGBAAt(0, 0))
	assert.Equal(t, src.NRGBAAt(63, 47), gotN.NRGBAAt(63, 47))
	assert.NotEqual(t, src.NRGBAAt(11, 11), gotN.NRGBAAt(11, 11))
}

func TestProcessImageNoFacesIsUnchanged(t *testing.T) {
	src := gradientFrame(20, 20)
	in := writePNG(t, src)
	out := filepath.Join(t.TempDir(), "out.png")
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, nil)

	faces, err := s.ProcessImage(context.Background(), in, out)
	require.NoError(t, err)
	assert.Zero(t, faces)

	got, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, imaging.Clone(got).Pix)
}

func TestProcessImageDecodeError(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a jpeg"), 0644))
	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, nil)
	for _, in := range []string{filepath.Join(dir, "missing.png"), corrupt, empty} {
		out := filepath.Join(dir, "out.png")
		_, err := s.ProcessImage(context.Background(), in, out)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, types.ErrDecode), in)
		assert.NoFileExists(t, out)
	}
}

func TestProcessImageEncodeError(t *testing.T) {
	in := writePNG(t, gradientFrame(8, 8))
	s := newTestSession(t, types.EffectBlur, &fakeDetector{}, nil)

	out := filepath.Join(t.TempDir(), "missing-dir", "out.png")
	_, err := s.ProcessImage(context.Background(), in, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEncode))
}

func TestProcessImageDebugSnapshot(t *testing.T) {
	in := writePNG(t, gradientFrame(30, 30))
	debugDir := filepath.Join(t.TempDir(), "debug")

	s, err := NewSession(Options{
		Effect:   types.EffectConfig{Effect: types.EffectBlur, BlurStrength: 5},
		Detector: &fakeDetector{boxes: []types.FaceBox{{X: 2, Y: 2, Width: 10, Height: 10}}},
		Logger:   testLogger(),
		DebugDir: debugDir,
	})
	require.NoError(t, err)

	_, err = s.ProcessImage(context.Background(), in, filepath.Join(t.TempDir(), "out.jpg"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(debugDir, "in_frame_000000.jpg"))
}

func TestProcessDispatchesByExtension(t *testing.T) {
	codec := newFakeVideo(11, 8, 8)
	det := &fakeDetector{boxes: []types.FaceBox{{X: 0, Y: 0, Width: 4, Height: 4}}}
	s := newTestSession(t, types.EffectBlur, det, codec)

	res, err := s.Process(context.Background(), "clip.MOV", "out.mov")
	require.NoError(t, err)
	assert.Equal(t, types.KindVideo, res.Kind)
	assert.Equal(t, 2, res.FacesDetected)
	assert.Equal(t, "out.mov", res.OutputPath)

	_, err = s.Process(context.Background(), "notes.txt", "out.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDecode))
}

func TestKindOf(t *testing.T) {
	for _, p := range []string{"a.png", "a.JPG", "a.jpeg", "a.gif"} {
		k, ok := KindOf(p)
		assert.True(t, ok, p)
		assert.Equal(t, types.KindImage, k, p)
	}
	for _, p := range []string{"a.mp4", "a.avi", "a.MOV"} {
		k, ok := KindOf(p)
		assert.True(t, ok, p)
		assert.Equal(t, types.KindVideo, k, p)
	}
	_, ok := KindOf("a.webm")
	assert.False(t, ok)
}

func TestRunClosesDetector(t *testing.T) {
	in := writePNG(t, gradientFrame(8, 8))
	det := &fakeDetector{}
	res, err := Run(context.Background(), Options{
		Effect:   types.EffectConfig{Effect: types.EffectPixelate, PixelSize: -4},
		Detector: det,
		Logger:   testLogger(),
	}, in, filepath.Join(t.TempDir(), "out.png"))
	require.NoError(t, err)
	assert.Equal(t, types.KindImage, res.Kind)
	assert.True(t, det.closed)
}

func TestNewSessionModelLoadError(t *testing.T) {
	_, err := NewSession(Options{
		Effect:     types.EffectConfig{Effect: types.EffectBlur},
		Model:      types.ParseModel("nonexistent"),
		CascadeDir: t.TempDir(),
		Logger:     testLogger(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrModelLoad))
}

func TestOutputStartedOnlyOnceWritingBegins(t *testing.T) {
	var started []string
	hooks := Hooks{OutputStarted: func(path string) { started = append(started, path) }}

	// Unreadable stream info: output never touched.
	codec := newFakeVideo(2, 8, 8)
	codec.probeErr = errors.New("no streams")
	s, err := NewSession(Options{
		Effect:   types.EffectConfig{Effect: types.EffectBlur},
		Detector: &fakeDetector{},
		Codec:    codec,
		Logger:   testLogger(),
		Hooks:    hooks,
	})
	require.NoError(t, err)
	_, err = s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.Error(t, err)
	assert.Empty(t, started)

	// Image decode failure: output never touched.
	_, err = s.ProcessImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "out.png")
	require.Error(t, err)
	assert.Empty(t, started)

	// Successful video: reported once, before the writer is opened.
	codec = newFakeVideo(2, 8, 8)
	s.codec = codec
	_, err = s.ProcessVideo(context.Background(), "in.mp4", "out.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"out.mp4"}, started)
}
