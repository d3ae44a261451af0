package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	idmodels "faceauth/internal/identity/models"
	"faceauth/internal/verification/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/httputil"
	authmw "faceauth/pkg/platform/middleware/auth"
	"faceauth/pkg/platform/validation"
	"faceauth/pkg/requestcontext"
)

const (
	// DefaultMaxImageBytes caps each uploaded probe.
	DefaultMaxImageBytes = 8 << 20
	defaultTopK          = 5
)

// Service is the biometric decision surface exposed over HTTP.
type Service interface {
	Enroll(ctx context.Context, req models.EnrollRequest) (*models.EnrollResult, error)
	Verify(ctx context.Context, req models.VerifyRequest) (*models.VerifyResult, error)
	Search(ctx context.Context, caller *idmodels.Caller, req models.SearchRequest) (*models.SearchResult, error)
}

type Handler struct {
	service       Service
	tokens        authmw.TokenValidator
	logger        *slog.Logger
	maxImageBytes int64
}

type Option func(*Handler)

func WithMaxImageBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxImageBytes = n
		}
	}
}

func New(service Service, tokens authmw.TokenValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:       service,
		tokens:        tokens,
		logger:        logger,
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts /enroll, /verify and the authenticated /search route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/enroll", h.HandleEnroll)
	r.Post("/verify", h.HandleVerify)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.tokens, h.logger))
		r.Post("/search", h.HandleSearch)
	})
}

type usernameParams struct {
	Username string `validate:"required,max=64,username"`
}

type enrollResponse struct {
	OK       bool          `json:"ok"`
	Username string        `json:"username"`
	Role     idmodels.Role `json:"role"`
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := usernameParams{Username: strings.TrimSpace(r.URL.Query().Get("username"))}
	if err := validation.Struct(params); err != nil {
		h.writeError(ctx, w, "enroll", err)
		return
	}

	images, err := h.readImages(w, r, "image")
	if err != nil {
		h.writeError(ctx, w, "enroll", err)
		return
	}

	res, err := h.service.Enroll(ctx, models.EnrollRequest{
		Username: params.Username,
		Origin:   requestcontext.ClientIP(ctx),
		Image:    images[0],
	})
	if err != nil {
		h.writeError(ctx, w, "enroll", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enrollResponse{OK: true, Username: res.Username, Role: res.Role})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := usernameParams{Username: strings.TrimSpace(r.URL.Query().Get("username"))}
	if err := validation.Struct(params); err != nil {
		h.writeError(ctx, w, "verify", err)
		return
	}

	images, err := h.readImages(w, r, "image1", "image2")
	if err != nil {
		h.writeError(ctx, w, "verify", err)
		return
	}

	res, err := h.service.Verify(ctx, models.VerifyRequest{
		Username: params.Username,
		Origin:   requestcontext.ClientIP(ctx),
		Image1:   images[0],
		Image2:   images[1],
	})
	if err != nil {
		h.writeError(ctx, w, "verify", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topK := defaultTopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(ctx, w, "search", dErrors.New(dErrors.CodeBadRequest, "top_k must be an integer"))
			return
		}
		topK = n
	}

	images, err := h.readImages(w, r, "image")
	if err != nil {
		h.writeError(ctx, w, "search", err)
		return
	}

	res, err := h.service.Search(ctx, idmodels.CallerFromContext(ctx), models.SearchRequest{
		Origin: requestcontext.ClientIP(ctx),
		Image:  images[0],
		TopK:   topK,
	})
	if err != nil {
		h.writeError(ctx, w, "search", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// readImages pulls the named multipart file fields, each capped at
// maxImageBytes.
func (h *Handler) readImages(w http.ResponseWriter, r *http.Request, fields ...string) ([][]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes*int64(len(fields))+1<<20)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "upload too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "expected multipart/form-data body")
	}

	out := make([][]byte, 0, len(fields))
	for _, field := range fields {
		file, _, err := r.FormFile(field)
		if err != nil {
			return nil, dErrors.NewWithDetails(dErrors.CodeBadRequest, "missing image field",
				map[string]any{"field": field})
		}
		data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
		_ = file.Close()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read upload")
		}
		if int64(len(data)) > h.maxImageBytes {
			return nil, dErrors.NewWithDetails(dErrors.CodeBadRequest, "image too large",
				map[string]any{"field": field})
		}
		out = append(out, data)
	}
	return out, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, op+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"code", string(dErrors.CodeOf(err)),
		)
	}
	httputil.WriteError(w, err)
}
