package extract

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// checkerPNG alternates lo/hi pixels, giving a very sharp image whose mean is (lo+hi)/2.
func checkerPNG(t *testing.T, size int, lo, hi uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			if (x+y)%2 == 0 {
				img.Pix[y*img.Stride+x] = lo
			} else {
				img.Pix[y*img.Stride+x] = hi
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func flatPNG(t *testing.T, size int, v uint8) []byte {
	t.Helper()
	return checkerPNG(t, size, v, v)
}
