package models

import "time"

type CreditPackage struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description   string    `json:"description,omitzero"`
	Credits       int64     `gorm:"not null" json:"credits"`
	PriceCents    int64     `gorm:"not null" json:"price_cents"`
	StripePriceID string    `gorm:"size:191;not null" json:"stripe_price_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
)

// CreditPurchase records a completed Stripe checkout. The unique session id makes top-ups at most once
// per checkout even when Stripe redelivers the webhook.
type CreditPurchase struct {
	ID                    uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                string         `gorm:"index;size:191;not null" json:"user_id"`
	StripeSessionID       string         `gorm:"uniqueIndex;size:191;not null" json:"stripe_session_id"`
	StripePaymentIntentID string         `gorm:"size:191" json:"stripe_payment_intent_id,omitzero"`
	PackageName           string         `gorm:"size:128" json:"package_name,omitzero"`
	Credits               int64          `gorm:"not null" json:"credits"`
	AmountPaidCents       int64          `json:"amount_paid_cents"`
	Status                PurchaseStatus `gorm:"size:32;not null" json:"status"`
	LedgerEntryID         uint           `json:"ledger_entry_id,omitzero"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type CreateCheckoutParams struct {
	UserID        string
	PackageName   string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

type CreateSubscriptionParams struct {
	UserID        string
	Tier          string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}
