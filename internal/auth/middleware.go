package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is unexported so only this package can read or write the
// userID value in a request context.
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth enforces authentication on protected routes.
//
// The token is read from the Authorization: Bearer header first (the
// mobile client's transport), falling back to the "token" cookie for
// browser-based tooling. A missing or invalid token stops the chain with
// 401 before any handler runs.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"User must be authenticated"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the identity when a valid token is present but
// never blocks the request. Referral-code validation runs under this —
// the self-referral check only applies when the caller is known, and the
// operation is explicitly usable pre-authentication.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil && userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID.
// Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID finds and validates the caller's token.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return "", errors.New("auth: malformed Authorization header")
		}
		return tokens.Validate(raw)
	}

	cookie, err := r.Cookie("token")
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
