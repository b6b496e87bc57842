package api

import (
	"context"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/Egham-7/letterpress/internal/services/credits"
	"github.com/Egham-7/letterpress/internal/services/request"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type CreditsHandler struct {
	ledger   *credits.Ledger
	staleAge time.Duration
}

func NewCreditsHandler(ledger *credits.Ledger, staleAge time.Duration) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, staleAge: staleAge}
}

type BalanceResponse struct {
	UserID         string    `json:"user_id"`
	Tier           string    `json:"tier"`
	Remaining      int64     `json:"remaining"`
	TotalAllocated int64     `json:"total_allocated"`
	LastUpdated    time.Time `json:"last_updated"`
}

func balanceResponse(b *models.CreditBalance) BalanceResponse {
	return BalanceResponse{
		UserID:         b.UserID,
		Tier:           b.Tier,
		Remaining:      b.Remaining,
		TotalAllocated: b.TotalAllocated,
		LastUpdated:    b.LastUpdated,
	}
}

// GetBalance returns the caller's balance.
func (h *CreditsHandler) GetBalance(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	balance, err := h.ledger.GetBalance(c.UserContext(), userID)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(balanceResponse(balance))
}

type ValidateRequest struct {
	Operation models.OperationType `json:"operation"`
	Quantity  int64                `json:"quantity"`
}

func (h *CreditsHandler) Validate(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	result, err := h.ledger.Validate(c.UserContext(), userID, req.Operation, req.Quantity)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(result)
}

type TransactionsResponse struct {
	Transactions []models.LedgerEntry `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

func (h *CreditsHandler) Transactions(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := max(c.QueryInt("offset", 0), 0)

	entries, err := h.ledger.History(c.UserContext(), userID, limit, offset)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(TransactionsResponse{Transactions: entries, Limit: limit, Offset: offset})
}

// Internal routes below are called by other services with a service token.

type InitializeRequest struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

func (h *CreditsHandler) Initialize(c *fiber.Ctx) error {
	requestID := request.ID(c)

	var req InitializeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	balance, err := h.ledger.Initialize(c.UserContext(), req.UserID, req.Tier)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(balanceResponse(balance))
}

type ReserveRequest struct {
	UserID        string               `json:"user_id"`
	Operation     models.OperationType `json:"operation"`
	Quantity      int64                `json:"quantity"`
	ContextTokens int64                `json:"context_tokens"`
	Description   string               `json:"description"`
}

func (h *CreditsHandler) Reserve(c *fiber.Ctx) error {
	requestID := request.ID(c)

	var req ReserveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	result, err := h.ledger.Reserve(c.UserContext(), models.ReserveParams{
		UserID:        req.UserID,
		Operation:     req.Operation,
		Quantity:      req.Quantity,
		ContextTokens: req.ContextTokens,
		Description:   req.Description,
	})
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

type FinalizeRequest struct {
	UserID        string                   `json:"user_id"`
	TransactionID uint                     `json:"transaction_id"`
	Success       bool                     `json:"success"`
	Metadata      *models.FinalizeMetadata `json:"metadata,omitempty"`
}

func (h *CreditsHandler) Finalize(c *fiber.Ctx) error {
	requestID := request.ID(c)

	var req FinalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}
	if req.TransactionID == 0 {
		return badRequest(c, requestID, "transaction_id is required")
	}

	// A finalize that reached us must settle even if the caller hangs up.
	result, err := h.ledger.Finalize(context.WithoutCancel(c.UserContext()), models.FinalizeParams{
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Success:       req.Success,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(result)
}

type AddCreditsRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

func (h *CreditsHandler) AddCredits(c *fiber.Ctx) error {
	requestID := request.ID(c)

	var req AddCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	entry, err := h.ledger.AddCredits(c.UserContext(), models.AddCreditsParams{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *CreditsHandler) Reconcile(c *fiber.Ctx) error {
	requestID := request.ID(c)

	report, err := h.ledger.Reconcile(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(report)
}

type StaleReservationsResponse struct {
	OlderThan    string               `json:"older_than"`
	Reservations []models.LedgerEntry `json:"reservations"`
}

func (h *CreditsHandler) StaleReservations(c *fiber.Ctx) error {
	requestID := request.ID(c)

	olderThan := h.staleAge
	if raw := c.Query("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, requestID, "older_than must be a positive duration such as 30m")
		}
		olderThan = parsed
	}

	entries, err := h.ledger.StaleReservations(c.UserContext(), olderThan, c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(StaleReservationsResponse{OlderThan: olderThan.String(), Reservations: entries})
}
