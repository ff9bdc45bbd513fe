// Package echo mounts the onboarding API on an Echo instance
package echo

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	onbhttp "github.com/mihaimyh/goonboard/middleware/http"
	"github.com/mihaimyh/goonboard/pkg/api"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Router is implemented by *echo.Echo and *echo.Group
type Router interface {
	Add(method, path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) *echo.Route
}

// Authenticate resolves the user ID and stores it in the request context.
// Build the api.Handler with GetUserID set to middleware/http.UserIDFromRequest.
func Authenticate(getUserID UserIDExtractor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(getUserID(c))
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Code: api.CodeUnauthorized})
			}
			c.Set(string(onbhttp.UserIDKey), userID)
			req := c.Request()
			c.SetRequest(req.WithContext(onbhttp.WithUserID(req.Context(), userID)))
			return next(c)
		}
	}
}

// Mount registers the handler's endpoints on router. The middleware runs
// before every endpoint except the webhook.
func Mount(router Router, handler *api.Handler, middleware ...echo.MiddlewareFunc) {
	for _, e := range handler.Endpoints() {
		if e.Public {
			router.Add(e.Method, e.Path, echo.WrapHandler(e.Handler))
			continue
		}
		router.Add(e.Method, e.Path, echo.WrapHandler(e.Handler), middleware...)
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromContext returns an UserIDExtractor that gets user ID from an Echo
// context key set by an earlier authentication middleware
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if userID, ok := c.Get(key).(string); ok {
			return userID
		}
		return ""
	}
}
