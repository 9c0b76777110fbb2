package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// UserInfo is the public user information returned in auth responses.
type UserInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AuthConfigResponse tells the frontend which auth methods are available.
type AuthConfigResponse struct {
	OIDCEnabled  bool   `json:"oidc_enabled"`
	OIDCName     string `json:"oidc_name"`
	LocalEnabled bool   `json:"local_enabled"`
}

// LocalUser is the subset of pkg/user.User that local password login needs.
// Declared locally (not imported from pkg/user) so this package only
// depends on a narrow lookup contract, not the concrete store.
type LocalUser struct {
	ID           string
	Email        string
	Username     string
	Role         string
	PasswordHash string
}

// UserLookup resolves a local user by email. The composition root wires in
// pkg/user's store.
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (*LocalUser, error)
}

// LoginHandler handles local email/password login and auth discovery.
type LoginHandler struct {
	tm          *TokenManager
	sessionTTL  time.Duration
	users       UserLookup
	logger      *slog.Logger
	oidcEnabled bool
}

// NewLoginHandler creates a new login handler.
func NewLoginHandler(tm *TokenManager, sessionTTL time.Duration, users UserLookup, logger *slog.Logger, oidcEnabled bool) *LoginHandler {
	return &LoginHandler{
		tm:          tm,
		sessionTTL:  sessionTTL,
		users:       users,
		logger:      logger,
		oidcEnabled: oidcEnabled,
	}
}

// HandleLogin authenticates a user with email/password and returns a session JWT.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "invalid JSON body"))
		return
	}

	if req.Email == "" || req.Password == "" {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "email and password are required"))
		return
	}

	u, err := h.users.FindByEmail(r.Context(), req.Email)
	if err != nil || u == nil {
		h.logger.Warn("login: user lookup failed", "email", req.Email)
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "invalid email or password"))
		return
	}

	if u.PasswordHash == "" {
		h.logger.Warn("login: user has no password set", "email", req.Email)
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "invalid email or password"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "invalid email or password"))
		return
	}

	token, err := h.tm.IssueUserSession(u.ID, u.Username, u.Role, h.sessionTTL)
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "failed to issue token", err))
		return
	}

	httpserver.Respond(w, http.StatusOK, LoginResponse{
		Token: token,
		User: UserInfo{
			ID:       u.ID,
			Email:    u.Email,
			Username: u.Username,
			Role:     u.Role,
		},
	})
}

// HandleAuthConfig returns the available authentication methods.
func (h *LoginHandler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, AuthConfigResponse{
		OIDCEnabled:  h.oidcEnabled,
		OIDCName:     "Single sign-on",
		LocalEnabled: true,
	})
}

// HandleMe returns the current authenticated caller.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "no authenticated identity"))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"subject":  id.Subject,
		"username": id.Username,
		"email":    id.Email,
		"role":     id.Role,
		"method":   id.Method,
	})
}

// HandleLogout is a no-op endpoint; session JWTs are stateless and simply
// expire, there is nothing server-side to revoke.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
