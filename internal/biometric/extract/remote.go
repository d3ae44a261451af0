package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"faceauth/internal/biometric/imaging"
	"faceauth/pkg/platform/circuit"
	"faceauth/pkg/platform/sentinel"
)

// RemoteExtractor decodes and quality-gates probes locally, then asks a model
// sidecar to detect faces and embed them. The sidecar contract is
//
//	POST <url>  (body: raw image bytes)
//	200 {"faces":[{"embedding":[...]}]}
//	400 when the sidecar cannot parse the image
type RemoteExtractor struct {
	url     string
	client  *http.Client
	gate    QualityGate
	decoder imaging.Decoder
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*RemoteExtractor)

func WithHTTPClient(c *http.Client) Option {
	return func(r *RemoteExtractor) {
		if c != nil {
			r.client = c
		}
	}
}

func WithQualityGate(g QualityGate) Option {
	return func(r *RemoteExtractor) {
		r.gate = g
	}
}

// WithMaxPixels rejects probes whose header declares more than n pixels.
func WithMaxPixels(n int) Option {
	return func(r *RemoteExtractor) {
		r.decoder = imaging.Decoder{MaxPixels: n}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *RemoteExtractor) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *RemoteExtractor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRemote(url string, opts ...Option) (*RemoteExtractor, error) {
	if url == "" {
		return nil, errors.New("extractor url is required")
	}
	r := &RemoteExtractor{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		gate:    DefaultQualityGate(),
		breaker: circuit.New("extractor"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type sidecarResponse struct {
	Faces []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"faces"`
}

// maxSidecarResponse bounds the JSON we are willing to read back.
const maxSidecarResponse = 4 << 20

func (r *RemoteExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	g, err := r.decoder.DecodeGray(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if ok, reason := r.gate.Check(g); !ok {
		return &Result{QualityOK: false, QualityReason: reason}, nil
	}

	faces, err := r.detect(ctx, data)
	if err != nil {
		return nil, err
	}

	res := &Result{QualityOK: true, FaceCount: len(faces.Faces)}
	if res.FaceCount == 1 {
		res.Embedding = faces.Faces[0].Embedding
	}
	return res, nil
}

func (r *RemoteExtractor) detect(ctx context.Context, data []byte) (*sidecarResponse, error) {
	if !r.breaker.Allow() {
		return nil, fmt.Errorf("extractor circuit open: %w", sentinel.ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build extractor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		r.recordFailure(ctx, err)
		return nil, fmt.Errorf("call extractor: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		r.recordSuccess(ctx)
		return nil, fmt.Errorf("%w: extractor rejected image", ErrDecode)
	case resp.StatusCode != http.StatusOK:
		err := fmt.Errorf("extractor returned status %d", resp.StatusCode)
		r.recordFailure(ctx, err)
		return nil, fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}

	var out sidecarResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSidecarResponse)).Decode(&out); err != nil {
		r.recordFailure(ctx, err)
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	r.recordSuccess(ctx)
	return &out, nil
}

func (r *RemoteExtractor) recordFailure(ctx context.Context, err error) {
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "extractor circuit opened", "breaker", r.breaker.Name(), "error", err)
	}
}

func (r *RemoteExtractor) recordSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "extractor circuit closed", "breaker", r.breaker.Name())
	}
}
