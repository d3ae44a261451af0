package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceauth/pkg/platform/circuit"
	"faceauth/pkg/platform/sentinel"
)

func sidecar(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		payload, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, payload)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRemoteRequiresURL(t *testing.T) {
	_, err := NewRemote("")
	require.Error(t, err)
}

func TestRemoteExtract(t *testing.T) {
	ctx := context.Background()
	sharp := checkerPNG(t, 32, 60, 200)

	t.Run("single face", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusOK, `{"faces":[{"embedding":[0.1,0.2,0.3]}]}`, &calls)
		x, err := NewRemote(srv.URL)
		require.NoError(t, err)

		res, err := x.Extract(ctx, sharp)
		require.NoError(t, err)
		assert.True(t, res.QualityOK)
		assert.Equal(t, 1, res.FaceCount)
		assert.Equal(t, []float64{0.1, 0.2, 0.3}, res.Embedding)
	})

	t.Run("two faces carry no embedding", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusOK, `{"faces":[{"embedding":[1]},{"embedding":[2]}]}`, &calls)
		x, _ := NewRemote(srv.URL)

		res, err := x.Extract(ctx, sharp)
		require.NoError(t, err)
		assert.Equal(t, 2, res.FaceCount)
		assert.Nil(t, res.Embedding)
	})

	t.Run("decode failure never reaches sidecar", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusOK, `{"faces":[]}`, &calls)
		x, _ := NewRemote(srv.URL)

		_, err := x.Extract(ctx, []byte("not an image"))
		assert.ErrorIs(t, err, ErrDecode)
		assert.Zero(t, calls.Load())
	})

	t.Run("oversized image is a decode failure", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusOK, `{"faces":[]}`, &calls)
		x, _ := NewRemote(srv.URL, WithMaxPixels(16*16))

		_, err := x.Extract(ctx, sharp)
		assert.ErrorIs(t, err, ErrDecode)
		assert.Contains(t, err.Error(), "image too large")
		assert.Zero(t, calls.Load())
	})

	t.Run("quality failure never reaches sidecar", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusOK, `{"faces":[]}`, &calls)
		x, _ := NewRemote(srv.URL)

		res, err := x.Extract(ctx, flatPNG(t, 32, 128))
		require.NoError(t, err)
		assert.False(t, res.QualityOK)
		assert.Contains(t, res.QualityReason, "image_too_blurry")
		assert.Zero(t, calls.Load())
	})

	t.Run("sidecar rejects image", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusBadRequest, `{"error":"bad image"}`, &calls)
		x, _ := NewRemote(srv.URL)

		_, err := x.Extract(ctx, sharp)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("outage opens circuit", func(t *testing.T) {
		var calls atomic.Int32
		srv := sidecar(t, http.StatusInternalServerError, ``, &calls)
		breaker := circuit.New("extractor", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
		x, _ := NewRemote(srv.URL, WithBreaker(breaker))

		for range 2 {
			_, err := x.Extract(ctx, sharp)
			assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		}
		assert.True(t, breaker.IsOpen())

		_, err := x.Extract(ctx, sharp)
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits the call")
	})
}

func TestFuncAdapter(t *testing.T) {
	var f Extractor = Func(func(context.Context, []byte) (*Result, error) {
		return &Result{QualityOK: true, FaceCount: 1, Embedding: []float64{1}}, nil
	})
	res, err := f.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FaceCount)
}
