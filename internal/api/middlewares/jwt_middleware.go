package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenVerifier resolves a signed token to the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type userIDKey struct{}

// JWTMiddleware validates the Authorization header and attaches the user id to the request context.
// Both "Bearer <jwt>" and a bare token are accepted.
func JWTMiddleware(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := BearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				unauthorized(w, "missing or invalid token")
				return
			}

			userID, err := tokens.Verify(tokenStr)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = strings.TrimSpace(header[7:])
	}
	return header
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user id set by JWTMiddleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
