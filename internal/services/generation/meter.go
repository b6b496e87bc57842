package generation

import (
	"context"
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/circuitbreaker"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Reserver is the slice of the credit ledger a metered call needs.
type Reserver interface {
	Reserve(ctx context.Context, params models.ReserveParams) (*models.ReserveResult, error)
	Finalize(ctx context.Context, params models.FinalizeParams) (*models.FinalizeResult, error)
}

// Breaker gates calls to a provider.
type Breaker interface {
	Allow(ctx context.Context) error
	Record(ctx context.Context, err error)
}

// BreakerSource hands out one breaker per provider. A nil source disables breaking.
type BreakerSource interface {
	ForProvider(name string) Breaker
}

type registryBreakers struct {
	registry *circuitbreaker.Registry
}

func (r registryBreakers) ForProvider(name string) Breaker {
	return r.registry.ForProvider(name)
}

// BreakersFromRegistry adapts the Redis-backed breaker registry.
func BreakersFromRegistry(registry *circuitbreaker.Registry) BreakerSource {
	if registry == nil {
		return nil
	}
	return registryBreakers{registry: registry}
}

type MeteredCall struct {
	UserID        string
	Operation     models.OperationType
	Quantity      int64
	ContextTokens int64
	Description   string
	Provider      models.ProviderName
	RequestID     string
}

// Outcome is what the metered work reports back for the ledger entry.
type Outcome struct {
	Detail string
	Extra  map[string]any
}

// Meter wraps provider work in reserve and finalize so credits are held before the call and
// settled exactly once after it.
type Meter struct {
	ledger   Reserver
	breakers BreakerSource
}

func NewMeter(ledger Reserver, breakers BreakerSource) *Meter {
	return &Meter{ledger: ledger, breakers: breakers}
}

func (m *Meter) Run(ctx context.Context, call MeteredCall, fn func(ctx context.Context) (Outcome, error)) (*models.CreditReceipt, error) {
	var breaker Breaker
	if m.breakers != nil && call.Provider != "" {
		breaker = m.breakers.ForProvider(string(call.Provider))
		if err := breaker.Allow(ctx); err != nil {
			fiberlog.Warnf("[%s] Provider %s unavailable, not reserving credits", call.RequestID, call.Provider)
			return nil, err
		}
	}

	reservation, err := m.ledger.Reserve(ctx, models.ReserveParams{
		UserID:        call.UserID,
		Operation:     call.Operation,
		Quantity:      call.Quantity,
		ContextTokens: call.ContextTokens,
		Description:   call.Description,
	})
	if err != nil {
		fiberlog.Debugf("[%s] Reserve failed for user %s: %v", call.RequestID, call.UserID, err)
		return nil, err
	}
	fiberlog.Debugf("[%s] Reserved %d credits (transaction %d)", call.RequestID, reservation.Cost, reservation.TransactionID)

	returned := false
	defer func() {
		if returned {
			return
		}
		if r := recover(); r != nil {
			m.settlePanic(ctx, call, reservation.TransactionID, breaker, r)
			panic(r)
		}
	}()
	outcome, workErr := fn(ctx)
	returned = true
	if breaker != nil {
		breaker.Record(ctx, workErr)
	}

	// Settlement must outlive a cancelled request.
	settleCtx := context.WithoutCancel(ctx)
	params := models.FinalizeParams{
		UserID:        call.UserID,
		TransactionID: reservation.TransactionID,
		Success:       workErr == nil,
	}
	if workErr == nil {
		params.Metadata = &models.FinalizeMetadata{Detail: outcome.Detail, Extra: outcome.Extra}
	} else {
		params.Metadata = &models.FinalizeMetadata{Detail: workErr.Error()}
	}

	settled, err := m.ledger.Finalize(settleCtx, params)
	if err != nil {
		fiberlog.Errorf("[%s] Failed to settle transaction %d for user %s: %v", call.RequestID, reservation.TransactionID, call.UserID, err)
		if workErr != nil {
			return nil, workErr
		}
		return nil, err
	}

	if workErr != nil {
		fiberlog.Infof("[%s] Refunded %d credits to user %s after failed %s", call.RequestID, settled.CreditsRefunded, call.UserID, call.Operation)
		return nil, workErr
	}

	return &models.CreditReceipt{
		TransactionID: reservation.TransactionID,
		Charged:       settled.CreditsDeducted,
		Remaining:     settled.Remaining,
	}, nil
}

// settlePanic refunds a reservation whose work panicked. The panic is left to the caller.
func (m *Meter) settlePanic(ctx context.Context, call MeteredCall, transactionID uint, breaker Breaker, r any) {
	panicErr := fmt.Errorf("panic: %v", r)
	if breaker != nil {
		breaker.Record(ctx, panicErr)
	}
	_, err := m.ledger.Finalize(context.WithoutCancel(ctx), models.FinalizeParams{
		UserID:        call.UserID,
		TransactionID: transactionID,
		Success:       false,
		Metadata:      &models.FinalizeMetadata{Detail: panicErr.Error()},
	})
	if err != nil {
		fiberlog.Errorf("[%s] Failed to refund transaction %d for user %s after panic: %v", call.RequestID, transactionID, call.UserID, err)
		return
	}
	fiberlog.Errorf("[%s] Refunded transaction %d for user %s after %s panicked: %v", call.RequestID, transactionID, call.UserID, call.Operation, r)
}
