package network

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
)

type networkContextKey struct{}

// WithNetwork returns a context carrying the resolved network.
func WithNetwork(ctx context.Context, n *Network) context.Context {
	return context.WithValue(ctx, networkContextKey{}, n)
}

// FromContext extracts the network attached by Resolver, or nil.
func FromContext(ctx context.Context) *Network {
	n, _ := ctx.Value(networkContextKey{}).(*Network)
	return n
}

// Resolver loads the network named by the {networkID} URL parameter and
// checks the authenticated caller holds at least minRole on it.
func Resolver(store *Store, minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			networkID := chi.URLParam(r, "networkID")
			if networkID == "" {
				httpserver.RespondErr(w, apperr.New(apperr.Validation, "missing network id"))
				return
			}

			n, err := store.Get(r.Context(), networkID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					httpserver.RespondErr(w, apperr.New(apperr.NotFound, "network not found"))
					return
				}
				httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "resolving network", err))
				return
			}

			id := auth.FromContext(r.Context())
			if id == nil || id.UserID == nil {
				httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
				return
			}

			if err := store.RequireRole(r.Context(), networkID, *id.UserID, minRole); err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
					httpserver.RespondErr(w, apperr.New(apperr.Forbidden, "insufficient network permissions"))
					return
				}
				httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "checking network permission", err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithNetwork(r.Context(), n)))
		})
	}
}
