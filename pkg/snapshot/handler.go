package snapshot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Handler exposes snapshot retrieval, on-demand generation, and aggregator
// administration over HTTP.
type Handler struct {
	aggregator *Aggregator
	publisher  *Publisher
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(aggregator *Aggregator, publisher *Publisher, logger *slog.Logger) *Handler {
	return &Handler{aggregator: aggregator, publisher: publisher, logger: logger}
}

// Routes returns a chi.Router with the snapshot surface mounted. The admin
// sub-routes are gated here behind an owner/admin role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleRetrieve)
	r.Post("/generate", h.handleGenerate)
	r.Post("/publish", h.handlePublishNow)

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(auth.RequireMinRole(auth.RoleAdmin))
		admin.Get("/config", h.handleGetConfig)
		admin.Put("/publish-interval", h.handleSetPublishInterval)
		admin.Put("/publishing-enabled", h.handleSetPublishingEnabled)
	})

	return r
}

func networkIDParam(r *http.Request) string {
	networkID := r.URL.Query().Get("network_id")
	if networkID == "" {
		networkID = "legacy"
	}
	return networkID
}

// handleRetrieve returns the most recently generated snapshot for a network,
// without triggering a new fetch cycle.
func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDParam(r)
	snap := h.aggregator.Last(networkID)
	if snap == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotFound, "no snapshot available yet for this network"))
		return
	}
	httpserver.Respond(w, http.StatusOK, snap)
}

// handleGenerate fetches fresh upstream data and assembles a new snapshot
// synchronously, returning it without publishing to the bus.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDParam(r)

	snap, err := h.aggregator.Generate(r.Context(), networkID)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	if snap == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotFound, "network has no layout to generate a snapshot from"))
		return
	}
	snap.Timestamp = time.Now().UTC()
	httpserver.Respond(w, http.StatusOK, snap)
}

// handlePublishNow runs a full publish cycle across every known network
// immediately, independent of the ticker's schedule.
func (h *Handler) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	h.publisher.PublishAllOnce(r.Context())
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "published"})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.publisher.GetConfig())
}

type setPublishIntervalRequest struct {
	IntervalSeconds float64 `json:"interval_seconds" validate:"required"`
}

func (h *Handler) handleSetPublishInterval(w http.ResponseWriter, r *http.Request) {
	var req setPublishIntervalRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.IntervalSeconds <= 0 {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "interval_seconds must be positive"))
		return
	}

	h.publisher.SetInterval(time.Duration(req.IntervalSeconds * float64(time.Second)))
	httpserver.Respond(w, http.StatusOK, h.publisher.GetConfig())
}

type setPublishingEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) handleSetPublishingEnabled(w http.ResponseWriter, r *http.Request) {
	var req setPublishingEnabledRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	h.publisher.SetEnabled(*req.Enabled)
	httpserver.Respond(w, http.StatusOK, h.publisher.GetConfig())
}
