package types

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKernel(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{50, 51},
		{-3, 1},
		{7, 7},
		{0, 1},
		{1, 1},
		{2, 3},
		{51, 51},
	}
	for _, tt := range tests {
		got := NormalizeKernel(tt.in)
		assert.Equal(t, tt.want, got, "NormalizeKernel(%d)", tt.in)
		assert.Equal(t, 1, got%2, "kernel must be odd")
		assert.Positive(t, got)
	}
}

func TestPixelDivisor(t *testing.T) {
	for _, size := range []int{-20, -1, 0} {
		assert.Equal(t, 1, EffectConfig{PixelSize: size}.PixelDivisor())
	}
	assert.Equal(t, 20, EffectConfig{PixelSize: 20}.PixelDivisor())
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
	}{
		{"haar_default", ModelFrontalDefault},
		{"haar_alt", ModelFrontalAlt},
		{"haar_alt2", ModelFrontalAlt2},
		{"haar_profile", ModelProfile},
		{"profile", ModelProfile},
		{"  HAAR_ALT ", ModelFrontalAlt},
		{"nonexistent", ModelFrontalDefault},
		{"", ModelFrontalDefault},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseModel(tt.in), "ParseModel(%q)", tt.in)
	}
}

func TestModelNamesRoundTrip(t *testing.T) {
	for _, m := range Models {
		assert.Equal(t, m, ParseModel(m.ExternalName()))
		assert.Equal(t, m, ParseModel(m.String()))
	}
}

func TestParseEffect(t *testing.T) {
	e, err := ParseEffect("Blur")
	require.NoError(t, err)
	assert.Equal(t, EffectBlur, e)

	e, err = ParseEffect("pixelate")
	require.NoError(t, err)
	assert.Equal(t, EffectPixelate, e)

	_, err = ParseEffect("sepia")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEffect))
}

func TestClipBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)

	got, ok := ClipBox(FaceBox{X: 90, Y: 70, Width: 30, Height: 30}, bounds)
	require.True(t, ok)
	assert.Equal(t, FaceBox{X: 90, Y: 70, Width: 10, Height: 10}, got)

	got, ok = ClipBox(FaceBox{X: -5, Y: -5, Width: 10, Height: 10}, bounds)
	require.True(t, ok)
	assert.Equal(t, FaceBox{X: 0, Y: 0, Width: 5, Height: 5}, got)

	_, ok = ClipBox(FaceBox{X: 200, Y: 0, Width: 10, Height: 10}, bounds)
	assert.False(t, ok)
}
