package api

import (
	"context"
	"time"

	"github.com/Egham-7/letterpress/internal/services/database"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db          *database.DB
	redisClient redis.UniversalClient
}

func NewHealthHandler(db *database.DB, redisClient redis.UniversalClient) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
	}
}

// HealthCheck reports the ledger database and Redis. Only the database is required for "healthy".
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	dbStatus := h.checkDatabase()
	redisStatus := h.checkRedis()

	overallStatus := statusHealthy
	statusCode := fiber.StatusOK

	switch {
	case dbStatus != statusHealthy:
		overallStatus = statusUnhealthy
		statusCode = fiber.StatusServiceUnavailable
	case redisStatus == statusUnhealthy:
		overallStatus = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}

func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return statusUnhealthy
	}
	if err := h.db.Ping(); err != nil {
		return statusUnhealthy
	}
	return statusHealthy
}

func (h *HealthHandler) checkRedis() string {
	if h.redisClient == nil {
		return statusDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return statusUnhealthy
	}
	return statusHealthy
}
