package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TokenVerifier checks a bearer token and returns its subject user id;
// implemented by token.Codec.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// BearerAuth extracts the token from the Authorization header (falling back
// to the token query parameter) and puts the verified user id into the
// request context. 401 with a JSON body on any failure.
func BearerAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if auth := r.Header.Get("Authorization"); auth != "" {
				raw = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
			}
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			userID, err := tokens.Verify(raw)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
