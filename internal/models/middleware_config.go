package models

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
	// KeyFunc groups requests; nil limits per client IP.
	KeyFunc func(*fiber.Ctx) string
}

type TimeoutConfig struct {
	Timeout time.Duration
}
