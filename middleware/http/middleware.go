// Package http provides HTTP middleware that authenticates onboarding requests
package http

import (
	"context"
	"net/http"
	"strings"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "onboarding:userID"
)

// Authenticate creates an HTTP middleware that resolves the user ID and stores
// it in the request context for UserIDFromRequest
func Authenticate(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(config.GetUserID(r))
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = w.Write([]byte(`{"error":"unauthorized","code":"unauthorized"}` + "\n"))
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a copy of ctx carrying userID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext returns the user ID stored by Authenticate
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// UserIDFromRequest returns the user ID stored by Authenticate.
// It has the signature expected by api.Config.GetUserID.
func UserIDFromRequest(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// Common extractors for convenience

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromBearerToken returns an UserIDExtractor that resolves a bearer token
// with verify. Requests without a bearer token or with a token verify rejects
// are unauthenticated.
func FromBearerToken(verify func(ctx context.Context, token string) (string, error)) UserIDExtractor {
	return func(r *http.Request) string {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return ""
		}
		userID, err := verify(r.Context(), strings.TrimSpace(token))
		if err != nil {
			return ""
		}
		return userID
	}
}
