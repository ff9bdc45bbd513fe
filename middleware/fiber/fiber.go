// Package fiber mounts the onboarding API on a Fiber app
package fiber

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	onbhttp "github.com/mihaimyh/goonboard/middleware/http"
	"github.com/mihaimyh/goonboard/pkg/api"
)

// UserIDLocal is the Fiber locals key Authenticate stores the user ID under.
// Fiber locals are visible to the adapted net/http handlers through the
// request context.
const UserIDLocal = "onboarding_user_id"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// Authenticate resolves the user ID and stores it in the Fiber locals.
// Build the api.Handler with GetUserID set to UserIDFromRequest.
func Authenticate(getUserID UserIDExtractor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(getUserID(c))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(api.ErrorResponse{Error: "unauthorized", Code: api.CodeUnauthorized})
		}
		c.Locals(UserIDLocal, userID)
		return c.Next()
	}
}

// UserIDFromRequest returns the user ID stored by Authenticate, or by
// middleware/http.Authenticate when that runs inside the adapted handler.
func UserIDFromRequest(r *http.Request) string {
	return userIDFromContext(r.Context())
}

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDLocal).(string); ok && userID != "" {
		return userID
	}
	return onbhttp.UserIDFromContext(ctx)
}

// Mount registers the handler's endpoints on router. The middleware runs
// before every endpoint except the webhook.
func Mount(router fiber.Router, handler *api.Handler, middleware ...fiber.Handler) {
	for _, e := range handler.Endpoints() {
		handlers := make([]fiber.Handler, 0, len(middleware)+1)
		if !e.Public {
			handlers = append(handlers, middleware...)
		}
		handlers = append(handlers, adaptor.HTTPHandler(e.Handler))
		router.Add(e.Method, e.Path, handlers...)
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns an UserIDExtractor that gets user ID from a Fiber locals
// key set by an earlier authentication middleware
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if userID, ok := c.Locals(key).(string); ok {
			return userID
		}
		return ""
	}
}
