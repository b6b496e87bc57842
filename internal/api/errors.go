package api

import (
	"errors"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// respondError maps err to its HTTP status and a sanitized body. Internal causes are logged, not returned.
func respondError(c *fiber.Ctx, requestID string, err error) error {
	appErr := models.SanitizeError(err)
	status := appErr.GetStatusCode()

	if status >= fiber.StatusInternalServerError {
		fiberlog.Errorf("[%s] %s %s failed: %v", requestID, c.Method(), c.Path(), err)
	} else {
		fiberlog.Debugf("[%s] %s %s rejected: %v", requestID, c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error":      appErr,
		"request_id": requestID,
	})
}

func badRequest(c *fiber.Ctx, requestID, message string) error {
	return respondError(c, requestID, models.NewValidationError(message, nil))
}

// ErrorHandler is the app-wide fallback for errors returned by handlers and middleware.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiber.Map{"message": fiberErr.Message},
		})
	}
	return respondError(c, "", err)
}
