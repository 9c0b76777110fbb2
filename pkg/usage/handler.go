package usage

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Handler exposes read-only usage statistics over HTTP, scoped to owners
// and above by the composition root's route gating.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a Handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Routes returns a chi.Router mounted under /usage.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleStats)
	r.Get("/{service}", h.handleStats)
	return r
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	stats, err := h.tracker.Stats(r.Context(), service)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "reading usage stats", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}
