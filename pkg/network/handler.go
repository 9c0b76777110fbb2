package network

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
	"github.com/wisbric/cartographer/pkg/user"
)

// Handler exposes CRUD on networks and permissions over HTTP.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with network CRUD routes mounted. Resolver
// (from middleware.go) is applied per-route with its own minimum role,
// since creation/listing don't resolve a specific network.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)

	r.Route("/{networkID}", func(sub chi.Router) {
		sub.Use(Resolver(h.store, user.RoleMember))
		sub.Get("/", h.handleGet)
		sub.Get("/preferences", h.handleGetPreferences)

		sub.Route("/", func(write chi.Router) {
			write.Use(Resolver(h.store, user.RoleAdmin))
			write.Put("/preferences", h.handleSetPreferences)
			write.Put("/permissions/{userID}", h.handleSetPermission)
		})
	})

	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	networks, err := h.store.ListAll(r.Context())
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"networks": networks})
}

type createNetworkRequest struct {
	Name string `json:"name" validate:"required"`
	Slug string `json:"slug" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
		return
	}

	var req createNetworkRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	created, err := h.store.Create(r.Context(), Network{Name: req.Name, Slug: req.Slug, OwnerID: *id.UserID})
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, FromContext(r.Context()))
}

func (h *Handler) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	n := FromContext(r.Context())
	prefs, err := h.store.GetPreferences(r.Context(), n.ID)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prefs)
}

func (h *Handler) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	n := FromContext(r.Context())

	var prefs Preferences
	if !httpserver.DecodeAndValidate(w, r, &prefs) {
		return
	}
	prefs.NetworkID = n.ID

	if err := h.store.SetPreferences(r.Context(), prefs); err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prefs)
}

type setPermissionRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	n := FromContext(r.Context())
	userID := chi.URLParam(r, "userID")

	var req setPermissionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !user.IsValidRole(req.Role) {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "invalid role"))
		return
	}

	if err := h.store.SetPermission(r.Context(), n.ID, userID, req.Role); err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"network_id": n.ID, "user_id": userID, "role": req.Role})
}
