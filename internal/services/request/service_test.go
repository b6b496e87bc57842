package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(ID(c)) })

	tests := []struct {
		name   string
		header string
		check  func(string) bool
	}{
		{"keeps caller id", "abc-123", func(id string) bool { return id == "abc-123" }},
		{"generates when missing", "", func(id string) bool { return strings.HasPrefix(id, "req_") }},
		{"caps long ids", strings.Repeat("a", 500), func(id string) bool { return len(id) == maxRequestIDLength }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			got := resp.Header.Get("X-Request-ID")
			if !tt.check(got) {
				t.Errorf("X-Request-ID = %q", got)
			}
		})
	}
}
