package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Handler exposes read-only quota introspection over HTTP.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Routes returns a chi.Router mounting the quota-status endpoint. The
// caller is expected to mount this under an authenticated sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	return r
}

type quotaStatusResponse struct {
	Service         string `json:"service"`
	Endpoint        string `json:"endpoint"`
	Used            int64  `json:"used"`
	Limit           int64  `json:"limit,omitempty"`
	Unlimited       bool   `json:"unlimited"`
	Remaining       int64  `json:"remaining,omitempty"`
	ResetsInSeconds int64  `json:"resets_in_seconds"`
}

// handleStatus reports the caller's own quota usage for a given service and
// endpoint, without consuming any of it. Both are read from the query string
// since this is a cross-cutting concern, not tied to a single resource path.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
		return
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		service = "default"
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = "default"
	}

	status, err := h.engine.QuotaStatusFor(r.Context(), service, *id.UserID, id.Role, endpoint)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, quotaStatusResponse{
		Service:         service,
		Endpoint:        endpoint,
		Used:            status.Used,
		Limit:           status.Limit,
		Unlimited:       status.Unlimited,
		Remaining:       status.Remaining,
		ResetsInSeconds: status.ResetsInSeconds,
	})
}
