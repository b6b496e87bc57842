package request

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	requestIDLocalKey  = "request_id"
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 128
)

// ID returns the request id, taking it from locals, then the X-Request-ID header, then generating one.
// The result is cached in locals.
func ID(c *fiber.Ctx) string {
	if cached, ok := c.Locals(requestIDLocalKey).(string); ok && cached != "" {
		return cached
	}

	requestID := sanitize(c.Get(requestIDHeader))
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}

	c.Locals(requestIDLocalKey, requestID)
	return requestID
}

// Middleware assigns the request id early and echoes it on the response.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(requestIDHeader, ID(c))
		return c.Next()
	}
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxRequestIDLength {
		id = id[:maxRequestIDLength]
	}
	return id
}
