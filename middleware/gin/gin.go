// Package gin mounts the onboarding API on a Gin engine
package gin

import (
	"net/http"
	"strings"

	gongin "github.com/gin-gonic/gin"

	onbhttp "github.com/mihaimyh/goonboard/middleware/http"
	"github.com/mihaimyh/goonboard/pkg/api"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Authenticate resolves the user ID and stores it in the request context.
// Build the api.Handler with GetUserID set to middleware/http.UserIDFromRequest.
func Authenticate(getUserID UserIDExtractor) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		userID := strings.TrimSpace(getUserID(c))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Code: api.CodeUnauthorized})
			return
		}
		c.Set(string(onbhttp.UserIDKey), userID)
		c.Request = c.Request.WithContext(onbhttp.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// Mount registers the handler's endpoints on router. The middleware runs
// before every endpoint except the webhook.
func Mount(router gongin.IRoutes, handler *api.Handler, middleware ...gongin.HandlerFunc) {
	for _, e := range handler.Endpoints() {
		handlers := make([]gongin.HandlerFunc, 0, len(middleware)+1)
		if !e.Public {
			handlers = append(handlers, middleware...)
		}
		handlers = append(handlers, gongin.WrapH(e.Handler))
		router.Handle(e.Method, e.Path, handlers...)
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContext returns an UserIDExtractor that gets user ID from a Gin context
// key set by an earlier authentication middleware
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}
