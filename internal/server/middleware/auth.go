package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/boltbuttar/campusgate/pkg/auth"
)

// NewAuthMiddleware gates a route group behind a bearer token of the given
// role. On success the verified subject and role are written into the
// request metadata for the handlers downstream.
func NewAuthMiddleware(logger *slog.Logger, verifier *auth.Verifier, requiredRole auth.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := bearerToken(r)
			claim, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Warn("Request token rejected",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				writeAPIError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if claim.Role != requiredRole {
				logger.Warn("Request role not permitted for route",
					slog.String("ip", reqMeta.IP),
					slog.String("subject", claim.Subject),
					slog.String("role", string(claim.Role)),
				)
				writeAPIError(w, http.StatusForbidden, "Forbidden")
				return
			}

			reqMeta.Subject = claim.Subject
			reqMeta.Role = claim.Role
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("session-token"); err == nil {
		return cookie.Value
	}
	return ""
}

// writeAPIError mirrors the portal's JSON error shape.
func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
