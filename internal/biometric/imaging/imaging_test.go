package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeUniform(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestDecodeGrayAndMean(t *testing.T) {
	data := encodeUniform(t, 20, 10, color.RGBA{R: 120, G: 120, B: 120, A: 255})
	g, err := DecodeGray(data)
	require.NoError(t, err)
	assert.Equal(t, 20, g.Bounds().Dx())
	assert.InDelta(t, 120, Mean(g), 0.5)
}

func TestResizeKeepsUniformIntensity(t *testing.T) {
	data := encodeUniform(t, 37, 53, color.Gray{Y: 77})
	g, err := DecodeGray(data)
	require.NoError(t, err)

	r := Resize(g, 16)
	assert.Equal(t, image.Rect(0, 0, 16, 16), r.Bounds())
	assert.InDelta(t, 77, Mean(r), 0.5)
}

// pngHeaderOnly returns a PNG signature and IHDR chunk declaring w x h
// pixels with no image data behind it.
func pngHeaderOnly(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeaderBeforeAllocating(t *testing.T) {
	data := pngHeaderOnly(16000, 16000)
	require.Less(t, len(data), 64)

	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = DecodeGray(data)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecoderPixelCap(t *testing.T) {
	small := encodeUniform(t, 10, 10, color.Gray{Y: 50})
	wide := encodeUniform(t, 20, 10, color.Gray{Y: 50})
	dec := Decoder{MaxPixels: 100}

	_, err := dec.DecodeGray(small)
	require.NoError(t, err, "exactly at the cap is allowed")

	_, err = dec.DecodeGray(wide)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Decoder{}.DecodeGray(wide)
	assert.NoError(t, err, "zero cap falls back to the default")
}
