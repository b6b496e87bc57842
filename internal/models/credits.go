package models

import (
	"fmt"
	"time"
)

type LedgerEntryKind string

const (
	LedgerEntryInitialize LedgerEntryKind = "initialize"
	LedgerEntryReserve    LedgerEntryKind = "reserve"
	LedgerEntryUse        LedgerEntryKind = "use"
	LedgerEntryRollback   LedgerEntryKind = "rollback"
	LedgerEntryAdd        LedgerEntryKind = "add"
)

// Valid reports whether k is one of the known entry kinds.
func (k LedgerEntryKind) Valid() bool {
	switch k {
	case LedgerEntryInitialize, LedgerEntryReserve, LedgerEntryUse, LedgerEntryRollback, LedgerEntryAdd:
		return true
	}
	return false
}

// debit reports whether entries of this kind carry a negative amount.
func (k LedgerEntryKind) debit() bool {
	return k == LedgerEntryReserve || k == LedgerEntryUse || k == LedgerEntryRollback
}

type OperationType string

const (
	OperationTextGeneration  OperationType = "TEXT_GENERATION"
	OperationTextEnhancement OperationType = "TEXT_ENHANCEMENT"
	OperationImageGeneration OperationType = "IMAGE_GENERATION"
	OperationImageVariation  OperationType = "IMAGE_VARIATION"
	OperationImageEdit       OperationType = "IMAGE_EDIT"
)

// Category returns the ledger category label for the operation, e.g. "text_generation".
func (o OperationType) Category() string {
	switch o {
	case OperationTextGeneration:
		return "text_generation"
	case OperationTextEnhancement:
		return "text_enhancement"
	case OperationImageGeneration:
		return "image_generation"
	case OperationImageVariation:
		return "image_variation"
	case OperationImageEdit:
		return "image_edit"
	default:
		return string(o)
	}
}

const CategoryRefund = "refund"

// CreditBalance is the cached per-user aggregate. LedgerEntry rows are the audit trail.
type CreditBalance struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"uniqueIndex;size:191;not null" json:"user_id"`
	Tier           string    `gorm:"size:64;not null;default:''" json:"tier"`
	TotalAllocated int64     `gorm:"not null;default:0" json:"total_allocated"`
	Remaining      int64     `gorm:"not null;default:0" json:"remaining"`
	LastUpdated    time.Time `gorm:"not null" json:"last_updated"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

type LedgerEntry struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string          `gorm:"index;size:191;not null" json:"user_id"`
	Amount        int64           `gorm:"not null" json:"amount"`
	BalanceBefore int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64           `gorm:"not null" json:"balance_after"`
	Kind          LedgerEntryKind `gorm:"index;size:32;not null" json:"kind"`
	Category      string          `gorm:"index;size:64" json:"category"`
	Description   string          `json:"description"`
	ReferenceID   string          `gorm:"index;size:191" json:"reference_id,omitempty"`
	ContextTokens int64           `gorm:"not null;default:0" json:"context_tokens,omitempty"`
	Metadata      string          `json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewLedgerEntry builds an entry and checks that kind and amount agree in sign and that the
// snapshots are consistent with the amount.
func NewLedgerEntry(userID string, kind LedgerEntryKind, amount, balanceBefore int64, category, description string) (LedgerEntry, error) {
	if userID == "" {
		return LedgerEntry{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !kind.Valid() {
		return LedgerEntry{}, fmt.Errorf("%w: unknown ledger entry kind %q", ErrInvalidInput, kind)
	}
	if kind.debit() && amount >= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: %s entry must have a negative amount, got %d", ErrInvalidInput, kind, amount)
	}
	if !kind.debit() && amount < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: %s entry must not have a negative amount, got %d", ErrInvalidInput, kind, amount)
	}
	if balanceBefore < 0 || balanceBefore+amount < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: entry would leave balance at %d", ErrInvalidInput, balanceBefore+amount)
	}

	return LedgerEntry{
		UserID:        userID,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore + amount,
		Kind:          kind,
		Category:      category,
		Description:   description,
	}, nil
}

type ReserveParams struct {
	UserID        string
	Operation     OperationType
	Quantity      int64
	ContextTokens int64
	Description   string
}

type ReserveResult struct {
	Cost                  int64 `json:"cost"`
	RemainingAfterReserve int64 `json:"remaining_after_reserve"`
	TransactionID         uint  `json:"transaction_id"`
}

type ValidateResult struct {
	HasEnoughCredits bool  `json:"has_enough_credits"`
	Remaining        int64 `json:"remaining"`
	Cost             int64 `json:"cost"`
	RemainingAfter   int64 `json:"remaining_after"`
}

// FinalizeMetadata carries what actually happened during the metered work.
type FinalizeMetadata struct {
	Detail string         `json:"detail,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

type FinalizeParams struct {
	UserID        string
	TransactionID uint
	Success       bool
	Metadata      *FinalizeMetadata
}

type FinalizeResult struct {
	CreditsDeducted int64 `json:"credits_deducted,omitempty"`
	CreditsRefunded int64 `json:"credits_refunded,omitempty"`
	Remaining       int64 `json:"remaining"`
}

type AddCreditsParams struct {
	UserID      string
	Amount      int64
	Description string
	ReferenceID string
	Metadata    string
}

// ReconcileReport compares the cached balance with a replay of the entry log.
type ReconcileReport struct {
	UserID            string `json:"user_id"`
	Remaining         int64  `json:"remaining"`
	ReplayedRemaining int64  `json:"replayed_remaining"`
	TotalAllocated    int64  `json:"total_allocated"`
	ReplayedAllocated int64  `json:"replayed_allocated"`
	Entries           int    `json:"entries"`
	BrokenChainAt     uint   `json:"broken_chain_at,omitempty"`
	Consistent        bool   `json:"consistent"`
}
