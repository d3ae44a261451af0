package extract

import (
	"fmt"
	"image"
	"math"

	"faceauth/internal/biometric/imaging"
)

const (
	DefaultMinSharpness  = 45.0
	DefaultMinBrightness = 40.0
	DefaultMaxBrightness = 220.0
)

// QualityGate rejects probes that are too blurry, too dark or too bright to
// produce a trustworthy embedding. Checks run in that order.
type QualityGate struct {
	MinSharpness  float64
	MinBrightness float64
	MaxBrightness float64
}

func DefaultQualityGate() QualityGate {
	return QualityGate{
		MinSharpness:  DefaultMinSharpness,
		MinBrightness: DefaultMinBrightness,
		MaxBrightness: DefaultMaxBrightness,
	}
}

// Check returns ok and an empty reason when the image is usable.
func (q QualityGate) Check(g *image.Gray) (bool, string) {
	sharpness := LaplacianVariance(g)
	if sharpness < q.MinSharpness {
		return false, fmt.Sprintf("image_too_blurry(blur=%.1f)", sharpness)
	}
	brightness := imaging.Mean(g)
	if brightness < q.MinBrightness {
		return false, "image_too_dark"
	}
	if brightness > q.MaxBrightness {
		return false, "image_too_bright"
	}
	return true, ""
}

// LaplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels. Sharp images have strong edges and a high variance.
func LaplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	return math.Max(0, sumSq/float64(n)-mean*mean)
}
