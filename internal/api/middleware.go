package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cryptiq-labs/rewardsd/internal/auth"
	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AuthMiddleware resolves the caller's bearer credential through the
// identity collaborator and stores the user ID on the request context.
// Every route behind it can assume userID(r) is set.
func AuthMiddleware(identity auth.Identity) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respondWithJSON(w, http.StatusUnauthorized,
					map[string]interface{}{"success": false, "error": "missing bearer token"})
				return
			}

			uid, err := identity.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					respondWithJSON(w, http.StatusUnauthorized,
						map[string]interface{}{"success": false, "error": "unauthorized"})
					return
				}
				respondWithJSON(w, http.StatusServiceUnavailable,
					map[string]interface{}{"success": false, "error": "identity service unavailable", "retryable": true})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userIDKey).(string)
	return uid
}
