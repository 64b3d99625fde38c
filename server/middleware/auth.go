package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/voxlane/voxlane/auth"
)

type contextKey string

// KeyInfoContextKey carries the verified ApiKeyInfo through the request
// context.
const KeyInfoContextKey contextKey = "api_key_info"

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Body    any    `json:"body"`
}

// RequirePermission wraps a handler with the credential gate: the
// Authorization header is verified for the permission, and refusals are
// mapped to 401/403/429 before the handler runs.
func RequirePermission(svc *auth.Service, permission auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.Verify(r.Context(), r.Header.Get("Authorization"), permission)
		if err != nil {
			status := auth.HTTPStatus(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(errorResponse{Code: status, Message: err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), KeyInfoContextKey, info)
		next(w, r.WithContext(ctx))
	}
}

// KeyInfoFromContext returns the verified key record, or nil outside an
// authenticated route.
func KeyInfoFromContext(ctx context.Context) *auth.ApiKeyInfo {
	info, _ := ctx.Value(KeyInfoContextKey).(*auth.ApiKeyInfo)
	return info
}
