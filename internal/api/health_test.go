package api

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func checkHealth(t *testing.T, h *HealthHandler) (int, healthBody) {
	t.Helper()

	app := fiber.New()
	app.Get("/health", h.HealthCheck)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func TestHealthCheck(t *testing.T) {
	db, err := database.New(models.DatabaseConfig{
		Type: models.SQLite,
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	status, body := checkHealth(t, NewHealthHandler(db, nil))
	if status != fiber.StatusOK || body.Status != "healthy" || body.Checks["redis"] != "disabled" {
		t.Errorf("without redis = %d %+v", status, body)
	}

	status, body = checkHealth(t, NewHealthHandler(db, client))
	if status != fiber.StatusOK || body.Status != "healthy" || body.Checks["redis"] != "healthy" {
		t.Errorf("with redis = %d %+v", status, body)
	}

	mr.Close()
	status, body = checkHealth(t, NewHealthHandler(db, client))
	if status != fiber.StatusOK || body.Status != "degraded" {
		t.Errorf("redis down = %d %+v", status, body)
	}

	status, body = checkHealth(t, NewHealthHandler(nil, nil))
	if status != fiber.StatusServiceUnavailable || body.Status != "unhealthy" {
		t.Errorf("no database = %d %+v", status, body)
	}
}
