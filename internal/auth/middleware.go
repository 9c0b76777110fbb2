package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Middleware authenticates the caller via a self-issued session/service JWT,
// then falls back to the external OIDC provider (if configured), then a
// dev-only header. This mirrors the precedence chain of a multi-method
// identity service: self-issued tokens are checked first since verifying
// them never makes a network call.
//
// Authentication precedence:
//  1. Authorization: Bearer <jwt>  →  user-session JWT → service JWT → OIDC JWT
//  2. X-Dev-User: <user-id>        →  development-only fallback (no real auth)
func Middleware(tm *TokenManager, oidcAuth *OIDCAuthenticator, devMode bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); hasBearerPrefix(authHeader) {
				rawToken := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(authHeader, "Bearer "), "bearer "))

				if tm != nil {
					if outcome := tm.Verify(rawToken, KindUserSession); outcome.claims != nil {
						identity = identityFromClaims(outcome.claims, MethodSession)
					} else if outcome := tm.Verify(rawToken, KindService); outcome.claims != nil {
						identity = identityFromClaims(outcome.claims, MethodService)
					}
				}

				if identity == nil && oidcAuth != nil {
					claims, err := oidcAuth.Authenticate(r.Context(), rawToken)
					if err == nil {
						identity = &Identity{
							Subject:  claims.Subject,
							Username: claims.Email,
							Email:    claims.Email,
							Role:     claims.Role,
							Method:   MethodOIDC,
						}
					} else {
						logger.Debug("oidc authentication failed", "error", err)
					}
				}

				if identity == nil {
					httpserver.RespondErr(w, apperr.New(apperr.InvalidToken, "invalid or expired token"))
					return
				}
			}

			if identity == nil && devMode {
				if userID := r.Header.Get("X-Dev-User"); userID != "" {
					identity = &Identity{
						Subject:  "dev:" + userID,
						Username: userID,
						Email:    "dev@localhost",
						Role:     RoleOwner,
						UserID:   &userID,
						Method:   MethodDev,
					}
					logger.Debug("dev-mode authentication", "user_id", userID)
				}
			}

			if identity == nil {
				httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "no valid authentication provided"))
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasBearerPrefix(h string) bool {
	return strings.HasPrefix(h, "Bearer ") || strings.HasPrefix(h, "bearer ")
}

func identityFromClaims(c *VerifiedClaims, method string) *Identity {
	var userID *string
	if !c.Service {
		sub := c.Subject
		userID = &sub
	}
	return &Identity{
		Subject:  c.Subject,
		Username: c.Username,
		Role:     c.Role,
		UserID:   userID,
		Service:  c.Service,
		Method:   method,
	}
}
