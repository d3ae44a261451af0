package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	idmodels "faceauth/internal/identity/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/httputil"
	authmw "faceauth/pkg/platform/middleware/auth"
	"faceauth/pkg/requestcontext"
)

type Handler struct {
	service *Service
	tokens  authmw.TokenValidator
	logger  *slog.Logger
}

func NewHandler(service *Service, tokens authmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, logger: logger}
}

// Register mounts /me and the /admin routes behind bearer authentication.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.tokens, h.logger))
		r.Get("/me", h.HandleMe)

		r.Route("/admin", func(r chi.Router) {
			r.With(authmw.RequireRole(h.logger, string(idmodels.RoleAdmin))).
				Post("/set-role", h.HandleSetRole)
			r.With(authmw.RequireRole(h.logger, string(idmodels.RoleAdmin), string(idmodels.RoleAnalyst))).
				Get("/events", h.HandleListEvents)
		})
	})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Me(r.Context(), idmodels.CallerFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	res, err := h.service.SetRole(ctx, idmodels.CallerFromContext(ctx), q.Get("username"), q.Get("role"))
	if err != nil {
		h.logger.WarnContext(ctx, "set role rejected",
			"request_id", requestcontext.RequestID(ctx),
			"caller", requestcontext.Subject(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		limit = n
	}
	res, err := h.service.ListEvents(ctx, idmodels.CallerFromContext(ctx), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
