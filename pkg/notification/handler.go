package notification

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Handler exposes preference management, the scheduled-broadcast state
// machine, and read-only history/anomaly introspection over HTTP.
type Handler struct {
	prefs      *PreferencesStore
	broadcasts *BroadcastStore
	history    *History
	anomaly    *AnomalyBaseline
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(prefs *PreferencesStore, broadcasts *BroadcastStore, history *History, anomaly *AnomalyBaseline, logger *slog.Logger) *Handler {
	return &Handler{prefs: prefs, broadcasts: broadcasts, history: history, anomaly: anomaly, logger: logger}
}

// Routes returns a chi.Router with the notification surface mounted under
// a network-scoped parent that has already resolved {networkID}. The
// caller applies its own role gating per spec's owner-only broadcast
// contract (write routes are gated by the composition root).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/preferences", h.handleGetPreferences)
	r.Put("/preferences", h.handleSetPreferences)

	r.Get("/history", h.handleHistory)

	r.Route("/broadcasts", func(b chi.Router) {
		b.Get("/", h.handleListBroadcasts)
		b.Post("/", h.handleCreateBroadcast)
		b.Put("/{broadcastID}", h.handleUpdateBroadcast)
		b.Delete("/{broadcastID}", h.handleDeleteBroadcast)
		b.Post("/{broadcastID}/cancel", h.handleCancelBroadcast)
		b.Post("/{broadcastID}/seen", h.handleMarkSeen)
	})

	r.Get("/anomaly/devices/{ip}", h.handleDeviceBaseline)
	r.Get("/anomaly/status", h.handleModelStatus)

	return r
}

func networkIDFromPath(r *http.Request) string {
	return chi.URLParam(r, "networkID")
}

func (h *Handler) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDFromPath(r)
	prefs, err := h.prefs.Get(r.Context(), networkID)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prefs)
}

func (h *Handler) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDFromPath(r)

	var prefs Preferences
	if !httpserver.DecodeAndValidate(w, r, &prefs) {
		return
	}
	prefs.NetworkID = networkID

	if err := h.prefs.Set(r.Context(), prefs); err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prefs)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDFromPath(r)
	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "invalid cursor", err))
		return
	}

	records := h.history.ForNetwork(networkID)

	// ForNetwork returns newest-last; the cursor page walks newest-first,
	// so the slice is reversed before paging.
	reversed := make([]Record, len(records))
	for i, rec := range records {
		reversed[len(records)-1-i] = rec
	}

	if params.After != nil {
		filtered := reversed[:0]
		for _, rec := range reversed {
			if rec.SentAt.Before(params.After.CreatedAt) {
				filtered = append(filtered, rec)
			}
		}
		reversed = filtered
	}

	if len(reversed) > params.Limit+1 {
		reversed = reversed[:params.Limit+1]
	}

	page := httpserver.NewCursorPage(reversed, params.Limit, func(rec Record) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: rec.SentAt, ID: recordID(rec)}
	})
	httpserver.Respond(w, http.StatusOK, page)
}

// recordID parses a history record's ID for cursor ordering. Records with a
// malformed or empty ID (which should not occur in practice) sort as the nil
// UUID rather than aborting the page.
func recordID(rec Record) uuid.UUID {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (h *Handler) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDFromPath(r)
	includeCompleted := r.URL.Query().Get("include_completed") == "true"

	broadcasts, err := h.broadcasts.ListForNetwork(r.Context(), networkID, includeCompleted, time.Now())
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "invalid pagination parameters", err))
		return
	}

	total := len(broadcasts)
	end := params.Offset + params.PageSize
	if params.Offset > total {
		params.Offset = total
	}
	if end > total {
		end = total
	}
	page := httpserver.NewOffsetPage(broadcasts[params.Offset:end], params, total)
	httpserver.Respond(w, http.StatusOK, page)
}

type createBroadcastRequest struct {
	Title        string    `json:"title" validate:"required"`
	Message      string    `json:"message" validate:"required"`
	EventType    string    `json:"event_type"`
	Priority     Priority  `json:"priority"`
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

func (h *Handler) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	networkID := networkIDFromPath(r)
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
		return
	}

	var req createBroadcastRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = "broadcast"
	}

	created, err := h.broadcasts.Create(r.Context(), ScheduledBroadcast{
		NetworkID:    networkID,
		CreatedBy:    *id.UserID,
		Title:        req.Title,
		Message:      req.Message,
		EventType:    eventType,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, created)
}

type updateBroadcastRequest struct {
	Title        string    `json:"title" validate:"required"`
	Message      string    `json:"message" validate:"required"`
	EventType    string    `json:"event_type"`
	Priority     Priority  `json:"priority"`
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

func (h *Handler) handleUpdateBroadcast(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "broadcastID")

	var req updateBroadcastRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = "broadcast"
	}

	updated, err := h.broadcasts.Update(r.Context(), broadcastID, req.Title, req.Message, eventType, req.Priority, req.ScheduledFor)
	if err != nil {
		respondBroadcastErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "broadcastID")
	if err := h.broadcasts.Delete(r.Context(), broadcastID); err != nil {
		respondBroadcastErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancelBroadcast(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "broadcastID")
	if err := h.broadcasts.Cancel(r.Context(), broadcastID); err != nil {
		respondBroadcastErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"id": broadcastID, "status": string(BroadcastCancelled)})
}

func (h *Handler) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "broadcastID")
	if err := h.broadcasts.MarkSeen(r.Context(), broadcastID, time.Now()); err != nil {
		respondBroadcastErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"id": broadcastID})
}

func respondBroadcastErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBroadcastNotFound):
		httpserver.RespondErr(w, apperr.New(apperr.NotFound, "broadcast not found"))
	case errors.Is(err, ErrNotPending):
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "broadcast is no longer pending"))
	case errors.Is(err, ErrPending):
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "broadcast must be cancelled before it can be deleted"))
	default:
		httpserver.RespondErr(w, err)
	}
}

func (h *Handler) handleDeviceBaseline(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	baseline, ok := h.anomaly.GetDeviceBaseline(ip)
	if !ok {
		httpserver.RespondErr(w, apperr.New(apperr.NotFound, "no baseline recorded for this device yet"))
		return
	}
	httpserver.Respond(w, http.StatusOK, baseline)
}

func (h *Handler) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.anomaly.GetModelStatus())
}
