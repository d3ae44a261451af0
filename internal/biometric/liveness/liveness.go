// Package liveness scores inter-frame motion between two probe captures. A
// replayed still photo produces near-identical frames and scores close to 0.
package liveness

import (
	"faceauth/internal/biometric/imaging"
)

const (
	DefaultThreshold     = 0.03
	DefaultCanonicalSize = 256
)

// Scorer compares two frames. MaxPixels caps each decoded frame; zero means
// imaging.DefaultMaxPixels.
type Scorer struct {
	Threshold float64
	Size      int
	MaxPixels int
}

func New(threshold float64, size int) Scorer {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	if size <= 0 {
		size = DefaultCanonicalSize
	}
	return Scorer{Threshold: threshold, Size: size}
}

// MotionScore is the mean absolute luma difference of the two frames after
// both are resized to Size x Size, normalised to [0, 1]. If either frame
// fails to decode the score is 0.
func (s Scorer) MotionScore(frameA, frameB []byte) float64 {
	dec := imaging.Decoder{MaxPixels: s.MaxPixels}
	ga, err := dec.DecodeGray(frameA)
	if err != nil {
		return 0
	}
	gb, err := dec.DecodeGray(frameB)
	if err != nil {
		return 0
	}
	ra := imaging.Resize(ga, s.Size)
	rb := imaging.Resize(gb, s.Size)

	var sum uint64
	for i := range ra.Pix {
		d := int(ra.Pix[i]) - int(rb.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(ra.Pix)) / 255.0
}

// Passes reports score >= Threshold.
func (s Scorer) Passes(score float64) bool {
	return score >= s.Threshold
}
