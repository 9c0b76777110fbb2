package auth

import (
	"net/http"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/httpserver"
)

// Roles, with the same values as pkg/user's role constants. Declared here
// rather than imported, since pkg/user imports this package.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// roleLevel orders the roles by privilege, as pkg/user does.
var roleLevel = map[string]int{RoleOwner: 30, RoleAdmin: 20, RoleMember: 10}

// IsValidRole reports whether role is one of the three known roles.
func IsValidRole(role string) bool {
	_, ok := roleLevel[role]
	return ok
}

// RequireAuth rejects requests that have no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole returns middleware rejecting requests whose identity does not
// hold one of the listed roles, by exact match.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
				return
			}
			if _, ok := set[id.Role]; !ok {
				httpserver.RespondErr(w, apperr.New(apperr.Forbidden, "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMinRole returns middleware rejecting requests whose identity has a
// lower privilege level than minRole. RequireMinRole(RoleAdmin) permits
// owner and admin — this is the proxy edge's "write access" guard.
func RequireMinRole(minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
				return
			}
			if roleLevel[id.Role] < roleLevel[minRole] {
				httpserver.RespondErr(w, apperr.New(apperr.Forbidden, "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
