package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// ProviderIdentity is what an external identity provider hands back after a
// successful exchange — the input to UserSyncer.SyncProviderUser.
type ProviderIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
}

// SyncResult is the outcome of resolving a ProviderIdentity to a local user,
// matching the four-branch contract of sync_provider_user in the spec.
type SyncResult struct {
	UserID  string
	Created bool
	Updated bool
}

// UserSyncer is implemented by the user store. Declared here (not imported
// from pkg/user) so internal/auth never depends on pkg/user — the
// composition root wires the concrete implementation in, the same way the
// HTTP layer bridges auth identity to tenant resolution via a local
// interface to avoid import cycles.
type UserSyncer interface {
	SyncProviderUser(ctx context.Context, identity ProviderIdentity, createIfMissing bool) (SyncResult, error)
}

// OIDCFlowHandler drives the OAuth2 Authorization Code flow end to end:
// redirect to the IdP, validate the callback, exchange the code, sync the
// resulting identity to a local user, and issue our own session JWT.
type OIDCFlowHandler struct {
	oauth2Cfg *oauth2.Config
	oidcAuth  *OIDCAuthenticator
	tm        *TokenManager
	sessionTTL time.Duration
	syncer    UserSyncer
	redis     *redis.Client
	logger    *slog.Logger
}

// NewOIDCFlowHandler creates a handler for the full OIDC Authorization Code flow.
func NewOIDCFlowHandler(oauth2Cfg *oauth2.Config, oidcAuth *OIDCAuthenticator, tm *TokenManager, sessionTTL time.Duration, syncer UserSyncer, rdb *redis.Client, logger *slog.Logger) *OIDCFlowHandler {
	return &OIDCFlowHandler{
		oauth2Cfg:  oauth2Cfg,
		oidcAuth:   oidcAuth,
		tm:         tm,
		sessionTTL: sessionTTL,
		syncer:     syncer,
		redis:      rdb,
		logger:     logger,
	}
}

// HandleLogin redirects the user to the OIDC identity provider.
func (h *OIDCFlowHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "failed to generate state", err))
		return
	}

	if err := h.redis.Set(r.Context(), "oidc_state:"+state, "1", 10*time.Minute).Err(); err != nil {
		h.logger.Error("oidc: storing state in redis", "error", err)
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "failed to store state", err))
		return
	}

	http.Redirect(w, r, h.oauth2Cfg.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback handles the IdP callback after authentication.
func (h *OIDCFlowHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	if state == "" {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "missing state parameter"))
		return
	}

	result, err := h.redis.GetDel(ctx, "oidc_state:"+state).Result()
	if err != nil || result == "" {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "invalid or expired state"))
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		h.logger.Warn("oidc: IdP returned error", "error", errParam, "description", desc)
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication failed: "+errParam))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpserver.RespondErr(w, apperr.New(apperr.Validation, "missing code parameter"))
		return
	}

	oauth2Token, err := h.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oidc: code exchange failed", "error", err)
		httpserver.RespondErr(w, apperr.Wrap(apperr.NotAuthenticated, "code exchange failed", err))
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "no id_token in response"))
		return
	}

	claims, err := h.oidcAuth.Authenticate(ctx, rawIDToken)
	if err != nil {
		h.logger.Error("oidc: token verification failed", "error", err)
		httpserver.RespondErr(w, apperr.New(apperr.InvalidToken, "invalid id_token"))
		return
	}

	sync, err := h.syncer.SyncProviderUser(ctx, ProviderIdentity{
		Provider:       "oidc",
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		DisplayName:    claims.Name,
	}, true)
	if err != nil {
		h.logger.Error("oidc: user sync failed", "error", err)
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "failed to resolve user", err))
		return
	}

	token, err := h.tm.IssueUserSession(sync.UserID, claims.Email, claims.Role, h.sessionTTL)
	if err != nil {
		h.logger.Error("oidc: issuing session token", "error", err)
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "failed to issue token", err))
		return
	}

	redirectURL := fmt.Sprintf("%s?token=%s", h.oauth2Cfg.RedirectURL, token)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
