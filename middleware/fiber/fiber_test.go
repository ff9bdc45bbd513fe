package fiber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	onbhttp "github.com/mihaimyh/goonboard/middleware/http"
	"github.com/mihaimyh/goonboard/pkg/api"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
	"github.com/mihaimyh/goonboard/storage/memory"
)

func setupApp(t *testing.T, middleware ...fiber.Handler) *fiber.App {
	t.Helper()

	machine, err := onboarding.NewMachine(memory.New(), onboarding.Config{})
	if err != nil {
		t.Fatalf("Failed to create machine: %v", err)
	}
	handler, err := api.NewHandler(api.Config{
		Machine:   machine,
		GetUserID: UserIDFromRequest,
	})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	app := fiber.New()
	Mount(app, handler, middleware...)
	return app
}

func TestMount_Status(t *testing.T) {
	app := setupApp(t, Authenticate(FromHeader("X-User-ID")))

	req := httptest.NewRequest(http.MethodGet, "/onboarding/status", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}
	var status onboarding.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.NextStep != onboarding.StepBasicInfo {
		t.Errorf("Expected next step %s, got %s", onboarding.StepBasicInfo, status.NextStep)
	}
}

func TestMount_ValidationError(t *testing.T) {
	app := setupApp(t, Authenticate(FromHeader("X-User-ID")))

	req := httptest.NewRequest(http.MethodPost, "/onboarding/user-info",
		strings.NewReader(`{"fullName":"","email":"jane@x.com","phone":"+1 555 010 2030","companyName":"Acme"}`))
	req.Header.Set("X-User-ID", "user1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Fields) != 1 || body.Fields[0].Field != "fullName" {
		t.Errorf("Expected a single fullName field error, got %+v", body.Fields)
	}
}

func TestAuthenticate_MissingUser(t *testing.T) {
	app := setupApp(t, Authenticate(FromHeader("X-User-ID")))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/onboarding/status", http.NoBody))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestAuthenticate_FromLocals(t *testing.T) {
	setUser := func(c *fiber.Ctx) error {
		c.Locals("auth_user", "user2")
		return c.Next()
	}
	app := setupApp(t, setUser, Authenticate(FromLocals("auth_user")))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/onboarding/status", http.NoBody))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestUserIDFromRequest_FallsBackToHTTPMiddleware(t *testing.T) {
	ctx := onbhttp.WithUserID(context.Background(), "user3")
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(ctx)

	if got := UserIDFromRequest(req); got != "user3" {
		t.Errorf("Expected user3, got %q", got)
	}
}
