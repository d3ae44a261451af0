// Package imaging decodes probe bytes into 8-bit luma planes.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// DefaultMaxPixels caps decoded probes at 4096x4096.
const DefaultMaxPixels = 4096 * 4096

var (
	// ErrEmpty is returned for zero-length input.
	ErrEmpty = errors.New("empty image")
	// ErrTooLarge is returned when the header declares more pixels than allowed.
	ErrTooLarge = errors.New("image too large")
)

// Decoder parses JPEG, PNG or GIF bytes. Dimensions are read from the header
// first, so oversized images are rejected before any pixel buffer is
// allocated. A non-positive MaxPixels means DefaultMaxPixels.
type Decoder struct {
	MaxPixels int
}

func (d Decoder) limit() int {
	if d.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return d.MaxPixels
}

func (d Decoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(d.limit()) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, d.limit())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeGray decodes data straight to grayscale.
func (d Decoder) DecodeGray(data []byte) (*image.Gray, error) {
	img, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	return Gray(img), nil
}

// Decode parses data with the default pixel cap.
func Decode(data []byte) (image.Image, error) {
	return Decoder{}.Decode(data)
}

// Gray converts img to an 8-bit grayscale plane using ITU-R BT.601 weights.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

// DecodeGray decodes data to grayscale with the default pixel cap.
func DecodeGray(data []byte) (*image.Gray, error) {
	return Decoder{}.DecodeGray(data)
}

// Resize scales src to size x size with bilinear interpolation.
func Resize(src *image.Gray, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Mean returns the average intensity of g in [0, 255].
func Mean(g *image.Gray) float64 {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum uint64
	for y := 0; y < b.Dy(); y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		row := g.Pix[off : off+b.Dx()]
		for _, p := range row {
			sum += uint64(p)
		}
	}
	return float64(sum) / float64(n)
}
