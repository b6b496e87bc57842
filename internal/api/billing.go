package api

import (
	"errors"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/Egham-7/letterpress/internal/services/billing"
	"github.com/Egham-7/letterpress/internal/services/request"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type BillingHandler struct {
	svc *billing.Service
}

func NewBillingHandler(svc *billing.Service) *BillingHandler {
	return &BillingHandler{svc: svc}
}

func (h *BillingHandler) Packages(c *fiber.Ctx) error {
	requestID := request.ID(c)

	packages, err := h.svc.ListPackages(c.UserContext())
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(fiber.Map{"packages": packages})
}

func (h *BillingHandler) Purchases(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	purchases, err := h.svc.Purchases(c.UserContext(), userID, c.QueryInt("limit", 20))
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(fiber.Map{"purchases": purchases})
}

type CheckoutRequest struct {
	Package       string `json:"package"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

func (h *BillingHandler) Checkout(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	resp, err := h.svc.CreateCreditCheckout(c.UserContext(), models.CreateCheckoutParams{
		UserID:        userID,
		PackageName:   req.Package,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.CustomerEmail,
	})
	if errors.Is(err, billing.ErrPackageNotFound) {
		return respondError(c, requestID, &models.AppError{Type: models.ErrorTypeNotFound, Message: err.Error(), Code: "PACKAGE_NOT_FOUND"})
	}
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

type SubscribeRequest struct {
	Tier          string `json:"tier"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

func (h *BillingHandler) Subscribe(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	resp, err := h.svc.CreateSubscriptionCheckout(c.UserContext(), models.CreateSubscriptionParams{
		UserID:        userID,
		Tier:          req.Tier,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.CustomerEmail,
	})
	if errors.Is(err, billing.ErrUnknownTierPrice) {
		return badRequest(c, requestID, err.Error())
	}
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// StripeWebhook acknowledges verified deliveries. A non-2xx answer makes Stripe retry.
func (h *BillingHandler) StripeWebhook(c *fiber.Ctx) error {
	requestID := request.ID(c)

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing Stripe-Signature header",
		})
	}

	payload := append([]byte(nil), c.Body()...)
	if err := h.svc.HandleWebhook(c.UserContext(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			fiberlog.Warnf("[%s] Rejected stripe webhook: %v", requestID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid webhook signature",
			})
		}
		fiberlog.Errorf("[%s] Failed to process stripe webhook: %v", requestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process webhook",
		})
	}

	return c.JSON(fiber.Map{
		"received": true,
	})
}
