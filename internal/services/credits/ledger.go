package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	categoryAllocation = "allocation"
	categoryPurchase   = "purchase"
)

// EventType says what happened to the entry carried by an Event.
type EventType string

const (
	EventEntryCreated EventType = "created"
	EventEntrySettled EventType = "settled"
)

type Event struct {
	Type  EventType
	Entry models.LedgerEntry
}

// Observer receives a copy of every entry created or mutated, after the transaction commits.
// Implementations must not block.
type Observer interface {
	LedgerEvent(ctx context.Context, event Event)
}

type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) LedgerEvent(ctx context.Context, event Event) { f(ctx, event) }

type Option func(*Ledger)

func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithProcessLocks forces or disables the in-process per-user mutex. By default it is enabled for
// SQLite only.
func WithProcessLocks(enabled bool) Option {
	return func(l *Ledger) {
		l.processLocks = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger owns per-user credit balances and the append-only entry log.
type Ledger struct {
	db           *gorm.DB
	cfg          Config
	locks        *userLocks
	processLocks bool
	observers    []Observer
	now          func() time.Time
}

func NewLedger(db *gorm.DB, cfg Config, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("credit ledger requires a database")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credit configuration: %w", err)
	}

	l := &Ledger{
		db:           db,
		cfg:          cfg,
		locks:        newUserLocks(),
		processLocks: db.Dialector.Name() == "sqlite",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// AutoMigrate creates the balance and entry tables.
func (l *Ledger) AutoMigrate() error {
	return l.db.AutoMigrate(&models.CreditBalance{}, &models.LedgerEntry{})
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// Initialize creates the user's balance with the tier allocation. It returns the existing balance
// unchanged when one is already present.
func (l *Ledger) Initialize(ctx context.Context, userID, tier string) (*models.CreditBalance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	tier = strings.ToLower(tier)
	if tier == "" {
		tier = l.cfg.DefaultTier
	}

	var balance models.CreditBalance
	var events []Event
	var allocation int64

	err := l.transaction(ctx, "initialize", userID, func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).First(&balance).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to read credit balance: %w", err)
		}

		// The tier only matters for a new balance.
		allocation, err = l.cfg.Tiers.Allocation(tier)
		if err != nil {
			return err
		}

		now := l.now()
		balance = models.CreditBalance{
			UserID:         userID,
			Tier:           tier,
			TotalAllocated: allocation,
			Remaining:      allocation,
			LastUpdated:    now,
		}
		if err := tx.Create(&balance).Error; err != nil {
			return fmt.Errorf("failed to create credit balance: %w", err)
		}

		entry, err := l.newEntry(userID, models.LedgerEntryInitialize, allocation, 0,
			categoryAllocation, fmt.Sprintf("Initial %s allocation", tier))
		if err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create ledger entry: %w", err)
		}
		events = append(events, Event{Type: EventEntryCreated, Entry: entry})
		return nil
	})
	if err != nil {
		// Another process created the row between our read and insert.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return l.GetBalance(ctx, userID)
		}
		return nil, err
	}

	if len(events) > 0 {
		fiberlog.Infof("Initialized credits for user %s: tier=%s, credits=%d", userID, tier, allocation)
	}
	l.publish(ctx, events)
	return &balance, nil
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", models.ErrBalanceNotFound, userID)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get_balance", Cause: err}
	}
	return &balance, nil
}

// Validate reports whether the user can afford quantity units of op. It never mutates state.
func (l *Ledger) Validate(ctx context.Context, userID string, op models.OperationType, quantity int64) (*models.ValidateResult, error) {
	cost, err := l.cfg.Costs.Cost(op, quantity)
	if err != nil {
		return nil, err
	}

	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.ValidateResult{
		HasEnoughCredits: balance.Remaining >= cost,
		Remaining:        balance.Remaining,
		Cost:             cost,
		RemainingAfter:   balance.Remaining - cost,
	}, nil
}

// Reserve deducts the cost up front and returns the entry id to settle with Finalize.
func (l *Ledger) Reserve(ctx context.Context, params models.ReserveParams) (*models.ReserveResult, error) {
	cost, err := l.cfg.Costs.Cost(params.Operation, params.Quantity)
	if err != nil {
		return nil, err
	}
	if params.ContextTokens < 0 {
		return nil, fmt.Errorf("%w: context tokens must not be negative", models.ErrInvalidInput)
	}

	var result models.ReserveResult
	var events []Event

	err = l.transaction(ctx, "reserve", params.UserID, func(tx *gorm.DB) error {
		balance, err := lockBalance(tx, params.UserID)
		if err != nil {
			return err
		}
		if balance.Remaining < cost {
			return &models.InsufficientCreditsError{
				Operation: params.Operation,
				Required:  cost,
				Available: balance.Remaining,
			}
		}

		description := params.Description
		if description == "" {
			description = fmt.Sprintf("Reserved %d credits for %s", cost, params.Operation.Category())
		}
		entry, err := l.newEntry(params.UserID, models.LedgerEntryReserve, -cost, balance.Remaining,
			params.Operation.Category(), description)
		if err != nil {
			return err
		}
		entry.ContextTokens = params.ContextTokens

		if err := updateRemaining(tx, &balance, entry.BalanceAfter, balance.TotalAllocated, l.now()); err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create ledger entry: %w", err)
		}

		result = models.ReserveResult{
			Cost:                  cost,
			RemainingAfterReserve: entry.BalanceAfter,
			TransactionID:         entry.ID,
		}
		events = append(events, Event{Type: EventEntryCreated, Entry: entry})
		return nil
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Debugf("Reserved %d credits for user %s (%s), transaction %d", cost, params.UserID, params.Operation, result.TransactionID)
	l.publish(ctx, events)
	return &result, nil
}

// Finalize settles a pending reservation. On success the charge stands and the entry becomes "use";
// on failure the credits are restored, the entry becomes "rollback" and a refund entry is appended.
func (l *Ledger) Finalize(ctx context.Context, params models.FinalizeParams) (*models.FinalizeResult, error) {
	if params.TransactionID == 0 {
		return nil, models.ErrReservationNotFound
	}

	var result models.FinalizeResult
	var events []Event

	err := l.transaction(ctx, "finalize", params.UserID, func(tx *gorm.DB) error {
		balance, err := lockBalance(tx, params.UserID)
		if err != nil {
			return err
		}

		var entry models.LedgerEntry
		err = tx.Where("id = ?", params.TransactionID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: id %d", models.ErrReservationNotFound, params.TransactionID)
		}
		if err != nil {
			return fmt.Errorf("failed to load ledger entry: %w", err)
		}
		if entry.UserID != params.UserID {
			return fmt.Errorf("%w: id %d", models.ErrReservationNotOwned, params.TransactionID)
		}
		if entry.Kind != models.LedgerEntryReserve {
			return fmt.Errorf("%w: id %d is %s", models.ErrReservationSettled, params.TransactionID, entry.Kind)
		}

		charged := -entry.Amount

		if params.Success {
			updates := map[string]any{"kind": models.LedgerEntryUse}
			entry.Kind = models.LedgerEntryUse
			if params.Metadata != nil {
				if params.Metadata.Detail != "" {
					updates["description"] = params.Metadata.Detail
					entry.Description = params.Metadata.Detail
				}
				if len(params.Metadata.Extra) > 0 {
					raw, err := json.Marshal(params.Metadata.Extra)
					if err != nil {
						return fmt.Errorf("%w: metadata is not serializable: %v", models.ErrInvalidInput, err)
					}
					updates["metadata"] = string(raw)
					entry.Metadata = string(raw)
				}
			}
			if err := tx.Model(&entry).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to settle ledger entry: %w", err)
			}

			result = models.FinalizeResult{CreditsDeducted: charged, Remaining: balance.Remaining}
			events = append(events, Event{Type: EventEntrySettled, Entry: entry})
			return nil
		}

		refund, err := l.newEntry(params.UserID, models.LedgerEntryAdd, charged, balance.Remaining,
			models.CategoryRefund, fmt.Sprintf("Refund for failed %s", entry.Category))
		if err != nil {
			return err
		}
		refund.ReferenceID = strconv.FormatUint(uint64(entry.ID), 10)
		if params.Metadata != nil && params.Metadata.Detail != "" {
			refund.Description = params.Metadata.Detail
		}

		if err := updateRemaining(tx, &balance, refund.BalanceAfter, balance.TotalAllocated, l.now()); err != nil {
			return err
		}
		if err := tx.Model(&entry).Update("kind", models.LedgerEntryRollback).Error; err != nil {
			return fmt.Errorf("failed to roll back ledger entry: %w", err)
		}
		entry.Kind = models.LedgerEntryRollback
		if err := tx.Create(&refund).Error; err != nil {
			return fmt.Errorf("failed to create refund entry: %w", err)
		}

		result = models.FinalizeResult{CreditsRefunded: charged, Remaining: balance.Remaining}
		events = append(events,
			Event{Type: EventEntrySettled, Entry: entry},
			Event{Type: EventEntryCreated, Entry: refund},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, events)
	return &result, nil
}

// AddCredits grants purchased credits. Deduplication by reference id is the caller's job.
func (l *Ledger) AddCredits(ctx context.Context, params models.AddCreditsParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", models.ErrInvalidInput, params.Amount)
	}

	var entry models.LedgerEntry
	var events []Event

	err := l.transaction(ctx, "add_credits", params.UserID, func(tx *gorm.DB) error {
		balance, err := lockBalance(tx, params.UserID)
		if err != nil {
			return err
		}

		description := params.Description
		if description == "" {
			description = fmt.Sprintf("Added %d credits", params.Amount)
		}
		entry, err = l.newEntry(params.UserID, models.LedgerEntryAdd, params.Amount, balance.Remaining,
			categoryPurchase, description)
		if err != nil {
			return err
		}
		entry.ReferenceID = params.ReferenceID
		entry.Metadata = params.Metadata

		if err := updateRemaining(tx, &balance, entry.BalanceAfter, balance.TotalAllocated+params.Amount, l.now()); err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create ledger entry: %w", err)
		}
		events = append(events, Event{Type: EventEntryCreated, Entry: entry})
		return nil
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("Added %d credits for user %s (reference=%s)", params.Amount, params.UserID, params.ReferenceID)
	l.publish(ctx, events)
	return &entry, nil
}

// History returns the user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry

	query := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, &models.PersistenceError{Op: "history", Cause: err}
	}
	return entries, nil
}

// transaction runs fn in one database transaction with the user's rows serialized.
// Ledger errors pass through; anything else is reported as a persistence failure.
func (l *Ledger) transaction(ctx context.Context, op, userID string, fn func(tx *gorm.DB) error) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}

	if l.processLocks {
		unlock := l.locks.lock(userID)
		defer unlock()
	}

	err := l.db.WithContext(ctx).Transaction(fn)
	if err == nil || isLedgerError(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	return &models.PersistenceError{Op: op, Cause: err}
}

func (l *Ledger) publish(ctx context.Context, events []Event) {
	for _, event := range events {
		for _, o := range l.observers {
			o.LedgerEvent(ctx, event)
		}
	}
}

func isLedgerError(err error) bool {
	for _, target := range []error{
		models.ErrBalanceNotFound,
		models.ErrInsufficientCredits,
		models.ErrInvalidReservation,
		models.ErrInvalidInput,
		models.ErrUnknownOperation,
		models.ErrUnknownTier,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func lockBalance(tx *gorm.DB, userID string) (models.CreditBalance, error) {
	var balance models.CreditBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return balance, fmt.Errorf("%w: user %s", models.ErrBalanceNotFound, userID)
	}
	if err != nil {
		return balance, fmt.Errorf("failed to lock credit balance: %w", err)
	}
	return balance, nil
}

func updateRemaining(tx *gorm.DB, balance *models.CreditBalance, remaining, totalAllocated int64, now time.Time) error {
	if remaining < 0 {
		return fmt.Errorf("%w: balance for user %s would become %d", models.ErrInvalidInput, balance.UserID, remaining)
	}
	if err := tx.Model(balance).Updates(map[string]any{
		"remaining":       remaining,
		"total_allocated": totalAllocated,
		"last_updated":    now,
	}).Error; err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}
	balance.Remaining = remaining
	balance.TotalAllocated = totalAllocated
	balance.LastUpdated = now
	return nil
}

func (l *Ledger) newEntry(userID string, kind models.LedgerEntryKind, amount, balanceBefore int64, category, description string) (models.LedgerEntry, error) {
	entry, err := models.NewLedgerEntry(userID, kind, amount, balanceBefore, category, description)
	if err != nil {
		return entry, err
	}
	entry.CreatedAt = l.now()
	return entry, nil
}
