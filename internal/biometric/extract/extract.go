// Package extract turns probe bytes into an embedding plus the quality and
// face-count facts the decision pipeline needs.
package extract

import (
	"context"
	"errors"
)

// ErrDecode marks probe bytes that could not be parsed as an image.
var ErrDecode = errors.New("image could not be decoded")

// Result is the extraction outcome for one probe. Embedding is nil unless
// QualityOK and exactly one face was found.
type Result struct {
	Embedding     []float64
	FaceCount     int
	QualityOK     bool
	QualityReason string
}

// Extractor computes an embedding from raw probe bytes. It returns an error
// wrapping ErrDecode for unparseable input; quality and face-count problems
// are reported in Result, not as errors.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Result, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, image []byte) (*Result, error)

func (f Func) Extract(ctx context.Context, image []byte) (*Result, error) {
	return f(ctx, image)
}
