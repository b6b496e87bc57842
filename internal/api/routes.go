package api

import (
	"github.com/Egham-7/letterpress/internal/services/middleware"
	"github.com/gofiber/fiber/v2"
)

// Handlers groups the route handlers. Nil handlers leave their routes unregistered.
type Handlers struct {
	Health       *HealthHandler
	Credits      *CreditsHandler
	Generation   *GenerationHandler
	Billing      *BillingHandler
	ClerkWebhook *ClerkWebhookHandler
}

// RegisterRoutes mounts public, webhook, user and internal routes on app.
func RegisterRoutes(app *fiber.App, h Handlers, authMiddleware *middleware.AuthMiddleware) {
	if h.Health != nil {
		app.Get("/health", h.Health.HealthCheck)
	}

	webhooks := app.Group("/webhooks")
	if h.Billing != nil {
		webhooks.Post("/stripe", h.Billing.StripeWebhook)
	}
	if h.ClerkWebhook != nil {
		webhooks.Post("/clerk", h.ClerkWebhook.Handle)
	}

	v1 := app.Group("/v1", authMiddleware.Authenticate(), authMiddleware.RequireUser())
	if h.Credits != nil {
		v1.Get("/credits/balance", h.Credits.GetBalance)
		v1.Post("/credits/validate", h.Credits.Validate)
		v1.Get("/credits/transactions", h.Credits.Transactions)
	}
	if h.Generation != nil {
		v1.Post("/generate/text", h.Generation.Text)
		v1.Post("/generate/enhance", h.Generation.Enhance)
		v1.Post("/generate/image", h.Generation.Image)
		v1.Post("/generate/image/variation", h.Generation.Variation)
		v1.Post("/generate/image/edit", h.Generation.Edit)
	}
	if h.Billing != nil {
		v1.Get("/billing/packages", h.Billing.Packages)
		v1.Get("/billing/purchases", h.Billing.Purchases)
		v1.Post("/billing/checkout", h.Billing.Checkout)
		v1.Post("/billing/subscribe", h.Billing.Subscribe)
	}

	if h.Credits != nil {
		internal := app.Group("/internal/credits", authMiddleware.Authenticate(), authMiddleware.RequireService())
		internal.Post("/initialize", h.Credits.Initialize)
		internal.Post("/reserve", h.Credits.Reserve)
		internal.Post("/finalize", h.Credits.Finalize)
		internal.Post("/add", h.Credits.AddCredits)
		internal.Get("/reconcile/:user_id", h.Credits.Reconcile)
		internal.Get("/reservations/stale", h.Credits.StaleReservations)
	}
}
