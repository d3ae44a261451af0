package liveness

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayPNG(t *testing.T, w, h int, y uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = y
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMotionScore(t *testing.T) {
	s := New(DefaultThreshold, 64)

	t.Run("identical frames score zero", func(t *testing.T) {
		f := grayPNG(t, 80, 80, 100)
		score := s.MotionScore(f, f)
		assert.InDelta(t, 0, score, 1e-9)
		assert.False(t, s.Passes(score))
	})

	t.Run("uniform shift", func(t *testing.T) {
		score := s.MotionScore(grayPNG(t, 80, 80, 100), grayPNG(t, 120, 90, 113))
		assert.InDelta(t, 13.0/255.0, score, 1e-6)
		assert.True(t, s.Passes(score))
	})

	t.Run("undecodable frame scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.MotionScore([]byte("junk"), grayPNG(t, 8, 8, 10)))
		assert.Equal(t, 0.0, s.MotionScore(grayPNG(t, 8, 8, 10), nil))
	})

	t.Run("bounded", func(t *testing.T) {
		score := s.MotionScore(grayPNG(t, 10, 10, 0), grayPNG(t, 10, 10, 255))
		assert.InDelta(t, 1.0, score, 1e-9)
	})
}

func TestMotionScoreRejectsOversizedFrames(t *testing.T) {
	s := New(DefaultThreshold, 16)
	s.MaxPixels = 30 * 30

	small, large := grayPNG(t, 30, 30, 0), grayPNG(t, 31, 30, 255)
	assert.InDelta(t, 1.0, s.MotionScore(small, grayPNG(t, 30, 30, 255)), 1e-9)
	assert.Equal(t, 0.0, s.MotionScore(small, large))
	assert.Equal(t, 0.0, s.MotionScore(large, small))
}

func TestPassesIsInclusive(t *testing.T) {
	s := New(0.03, 0)
	assert.Equal(t, DefaultCanonicalSize, s.Size)
	assert.True(t, s.Passes(0.03))
	assert.False(t, s.Passes(0.0299))
}
