package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gigstream/gigstream/realtime/auth"
)

// ContextKey is a strict type for context keys to prevent collisions.
type ContextKey string

// PrincipalKey is the context key for the verified principal ID.
const PrincipalKey ContextKey = "principal"

// Auth enforces Bearer authentication and injects the verified principal
// into the request context.
func Auth(verifier auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization format. Expected 'Bearer <token>'", http.StatusUnauthorized)
			return
		}

		principal, err := verifier.Verify(r.Context(), parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipalFromContext retrieves the verified principal from the context.
func GetPrincipalFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(PrincipalKey)
	if val == nil {
		return "", fmt.Errorf("principal not found in context")
	}
	principal, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("principal in context is not a string")
	}
	return principal, nil
}
