// Package api wires the HTTP surface: auth middleware, the activity list,
// ingest and search handlers, the SSE stream and health endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ledgerline/activity-service/internal/api/respond"
	"github.com/ledgerline/activity-service/internal/auth"
)

type ctxKey int

const identityKey ctxKey = iota

// AuthMiddleware resolves the bearer token to an owner identity and stores it
// on the request context. Every data-plane route sits behind it.
func AuthMiddleware(authz auth.Authorizer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A missing header surfaces as an empty token; the authorizer
			// decides whether that is acceptable (insecure dev mode) or not.
			token, _ := auth.ExtractToken(r)
			id, err := authz.Authorize(r.Context(), token)
			if err != nil {
				respond.WriteUnauthorized(w, "invalid or missing bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the authenticated identity placed by AuthMiddleware.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}
