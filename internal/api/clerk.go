package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/Egham-7/letterpress/internal/services/request"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const clerkUserCreated = "user.created"

// Initializer activates a new account's credits.
type Initializer interface {
	Initialize(ctx context.Context, userID, tier string) (*models.CreditBalance, error)
}

// ClerkWebhookHandler gives new Clerk users their starting allocation.
type ClerkWebhookHandler struct {
	verifier *auth.ClerkWebhookVerifier
	ledger   Initializer
}

func NewClerkWebhookHandler(verifier *auth.ClerkWebhookVerifier, ledger Initializer) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{verifier: verifier, ledger: ledger}
}

func (h *ClerkWebhookHandler) Handle(c *fiber.Ctx) error {
	requestID := request.ID(c)
	payload := append([]byte(nil), c.Body()...)

	headers := http.Header{}
	for _, name := range []string{"svix-id", "svix-timestamp", "svix-signature"} {
		headers.Set(name, c.Get(name))
	}
	if err := h.verifier.Verify(payload, headers); err != nil {
		fiberlog.Warnf("[%s] Rejected clerk webhook: %v", requestID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	var event auth.ClerkUserEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return badRequest(c, requestID, "Invalid webhook payload")
	}

	if event.Type != clerkUserCreated {
		fiberlog.Debugf("[%s] Ignoring clerk event %s", requestID, event.Type)
		return c.JSON(fiber.Map{"received": true})
	}
	if event.Data.ID == "" {
		return badRequest(c, requestID, "user id missing from event")
	}

	balance, err := h.ledger.Initialize(c.UserContext(), event.Data.ID, event.Tier())
	if err != nil {
		return respondError(c, requestID, err)
	}

	fiberlog.Infof("[%s] Activated credits for new user %s (%s, %d credits)", requestID, balance.UserID, balance.Tier, balance.Remaining)
	return c.JSON(fiber.Map{"received": true})
}
