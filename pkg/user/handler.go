package user

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// inviteTTL is the spec's "typically 72h" default for invite redemption.
const inviteTTL = 72 * time.Hour

// passwordResetTTL bounds how long a password-reset link stays valid.
const passwordResetTTL = 30 * time.Minute

// NetworkGrantor grants a network role to a user. Declared locally, not
// imported from pkg/network, since pkg/network already imports pkg/user —
// the composition root wires pkg/network.Store in directly, since its
// SetPermission method already matches this signature.
type NetworkGrantor interface {
	SetPermission(ctx context.Context, networkID, userID, role string) error
}

// Handler exposes owner setup, invite issuance/redemption, and
// password-reset over HTTP.
type Handler struct {
	store    *Store
	tm       *auth.TokenManager
	networks NetworkGrantor
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store *Store, tm *auth.TokenManager, networks NetworkGrantor, logger *slog.Logger) *Handler {
	return &Handler{store: store, tm: tm, networks: networks, logger: logger}
}

// Routes returns the unauthenticated auth-adjacent routes (setup, invite
// verify/accept, password-reset request/confirm). Invite *creation* is
// mounted separately by the composition root behind an admin-gated router,
// since it requires an authenticated inviter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/setup", h.handleOwnerSetup)
	r.Get("/invites/{token}/verify", h.handleVerifyInvite)
	r.Post("/invites/{token}/accept", h.handleAcceptInvite)
	r.Post("/password-reset/request", h.handleRequestPasswordReset)
	r.Post("/password-reset/confirm", h.handleConfirmPasswordReset)
	return r
}

// InviteRoutes returns the invite-creation route. Mount this under an
// authenticated, role-gated sub-router.
func (h *Handler) InviteRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateInvite)
	return r
}

type ownerSetupRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// handleOwnerSetup creates the first account, as owner, and only while no
// users exist — the one-time bootstrap path. Once any user exists this
// endpoint always fails, so it cannot be used to mint a second owner.
func (h *Handler) handleOwnerSetup(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUsers(r.Context())
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	if count > 0 {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "setup has already been completed"))
		return
	}

	var req ownerSetupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	created, err := h.store.CreateUser(r.Context(), User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         RoleOwner,
		AuthMethod:   AuthMethodLocal,
	})
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "creating owner account", err))
		return
	}

	token, err := h.tm.IssueUserSession(created.ID, created.Username, created.Role, 24*time.Hour)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "issuing session", err))
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  created,
	})
}

type createInviteRequest struct {
	NetworkID string `json:"network_id" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"required"`
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
		return
	}

	var req createInviteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !IsValidRole(req.Role) {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "invalid role"))
		return
	}

	inv, err := h.store.CreateInvite(r.Context(), req.NetworkID, req.Email, req.Role, *id.UserID, inviteTTL)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	token, err := h.tm.IssueInvite(inv.ID, inv.Email, inv.Role, inviteTTL)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "issuing invite token", err))
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"invite": inv, "token": token})
}

// verifiedInvite resolves and cross-checks a raw invite token against its
// backing row, returning apperr-shaped failures for every invalid state.
func (h *Handler) verifiedInvite(ctx context.Context, rawToken string) (*Invite, *auth.VerifiedClaims, error) {
	outcome := h.tm.Verify(rawToken, auth.KindInvite)
	claims, ok := outcome.Valid()
	if !ok {
		return nil, nil, apperr.New(apperr.NotAuthenticated, "invite token is invalid or expired")
	}

	inv, err := h.store.GetInvite(ctx, claims.Subject)
	if err != nil {
		return nil, nil, apperr.New(apperr.NotFound, "invite not found")
	}
	if inv.Status(time.Now()) != InvitePending {
		return nil, nil, apperr.New(apperr.Validation, "invite is no longer pending")
	}

	return inv, claims, nil
}

func (h *Handler) handleVerifyInvite(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	inv, _, err := h.verifiedInvite(r.Context(), token)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"email":      inv.Email,
		"role":       inv.Role,
		"network_id": inv.NetworkID,
		"expires_at": inv.ExpiresAt,
	})
}

type acceptInviteRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// handleAcceptInvite creates (or reuses, for an existing local account) a
// user for the invite's email, grants the invited role on the invite's
// network, and marks the invite consumed. A second redemption attempt fails
// since AcceptInvite only affects a still-pending row.
func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	inv, _, err := h.verifiedInvite(r.Context(), token)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	var req acceptInviteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.store.FindByEmail(r.Context(), inv.Email)
	if err != nil && err != ErrNotFound {
		httpserver.RespondErr(w, err)
		return
	}
	if u == nil {
		hash, err := HashPassword(req.Password)
		if err != nil {
			httpserver.RespondErr(w, err)
			return
		}
		u, err = h.store.CreateUser(r.Context(), User{
			Username:     req.Username,
			Email:        inv.Email,
			PasswordHash: hash,
			Role:         RoleMember,
			AuthMethod:   AuthMethodLocal,
		})
		if err != nil {
			httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "creating invited account", err))
			return
		}
	}

	if err := h.networks.SetPermission(r.Context(), inv.NetworkID, u.ID, inv.Role); err != nil {
		httpserver.RespondErr(w, err)
		return
	}
	if err := h.store.AcceptInvite(r.Context(), inv.ID); err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	sessionToken, err := h.tm.IssueUserSession(u.ID, u.Username, u.Role, 24*time.Hour)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "issuing session", err))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"token": sessionToken, "user": u})
}

type requestPasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// handleRequestPasswordReset always returns 200 regardless of whether the
// email matches an account, so this endpoint cannot be used to enumerate
// registered addresses. The issued token (if any) would be delivered by the
// caller's mail transport, not returned here.
func (h *Handler) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req requestPasswordResetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.store.FindByEmail(r.Context(), req.Email)
	if err == nil && u != nil {
		if _, issueErr := h.tm.IssuePasswordReset(u.ID, passwordResetTTL); issueErr != nil {
			h.logger.Error("user: issuing password reset token", "error", issueErr)
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type confirmPasswordResetRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req confirmPasswordResetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	outcome := h.tm.Verify(req.Token, auth.KindPasswordReset)
	claims, ok := outcome.Valid()
	if !ok {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "reset token is invalid or expired"))
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	if err := h.store.UpdatePassword(r.Context(), claims.Subject, hash); err != nil {
		httpserver.RespondErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
