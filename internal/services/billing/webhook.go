package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/notify"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HandleWebhook verifies a Stripe delivery and applies it.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent applies a verified event. Unhandled event types are acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.handleCheckoutCompleted(ctx, event)
	default:
		fiberlog.Debugf("Billing: ignoring stripe event %s (%s)", event.ID, event.Type)
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("stripe event %s has no data", event.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		fiberlog.Infof("Billing: checkout %s not paid yet, waiting for async payment", sess.ID)
		return nil
	}

	userID := sess.Metadata[metaUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if userID == "" {
		return fmt.Errorf("checkout session %s has no user", sess.ID)
	}

	switch sess.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return s.grantSubscription(ctx, &sess, userID)
	case stripe.CheckoutSessionModePayment:
		return s.topUp(ctx, &sess, userID)
	default:
		fiberlog.Warnf("Billing: checkout %s has unsupported mode %s", sess.ID, sess.Mode)
		return nil
	}
}

// grantSubscription activates the account. Initialize is idempotent, so redelivery is harmless.
func (s *Service) grantSubscription(ctx context.Context, sess *stripe.CheckoutSession, userID string) error {
	tier := sess.Metadata[metaTier]
	balance, err := s.ledger.Initialize(ctx, userID, tier)
	if err != nil {
		return fmt.Errorf("failed to initialize credits for %s: %w", userID, err)
	}

	if tier != "" && balance.Tier != tier {
		fiberlog.Warnf("Billing: user %s already on tier %s, subscription to %s did not change the allocation", userID, balance.Tier, tier)
		return nil
	}

	s.notify(ctx, notify.NewEvent(notify.EventCreditsGranted, userID, balance.TotalAllocated, balance.Remaining, sess.ID))
	return nil
}

// topUp adds purchased credits at most once per checkout session.
func (s *Service) topUp(ctx context.Context, sess *stripe.CheckoutSession, userID string) error {
	credits, err := strconv.ParseInt(sess.Metadata[metaCredits], 10, 64)
	if err != nil || credits <= 0 {
		return fmt.Errorf("checkout session %s has invalid credit amount %q", sess.ID, sess.Metadata[metaCredits])
	}

	purchase := models.CreditPurchase{
		UserID:          userID,
		StripeSessionID: sess.ID,
		PackageName:     sess.Metadata[metaPackage],
		Credits:         credits,
		AmountPaidCents: sess.AmountTotal,
		Status:          models.PurchasePending,
	}
	if sess.PaymentIntent != nil {
		purchase.StripePaymentIntentID = sess.PaymentIntent.ID
	}

	claimed, err := s.claim(ctx, &purchase)
	if err != nil {
		return err
	}
	if !claimed {
		claimed, err = s.resume(ctx, &purchase)
		if err != nil || !claimed {
			return err
		}
	}

	metadata, err := json.Marshal(map[string]any{
		"stripe_session_id":        sess.ID,
		"stripe_payment_intent_id": purchase.StripePaymentIntentID,
		"amount_paid_cents":        sess.AmountTotal,
		"package":                  purchase.PackageName,
	})
	if err != nil {
		s.release(ctx, &purchase)
		return fmt.Errorf("failed to marshal purchase metadata: %w", err)
	}

	entry, err := s.ledger.AddCredits(ctx, models.AddCreditsParams{
		UserID:      userID,
		Amount:      credits,
		Description: fmt.Sprintf("Credit purchase via Stripe (%d credits)", credits),
		ReferenceID: sess.ID,
		Metadata:    string(metadata),
	})
	if err != nil {
		s.release(ctx, &purchase)
		return fmt.Errorf("failed to add credits: %w", err)
	}

	if err := s.complete(ctx, &purchase, entry.ID); err != nil {
		// The credits are in; a redelivery finds the entry and completes the purchase.
		fiberlog.Errorf("Billing: failed to mark purchase %s completed: %v", sess.ID, err)
	}

	fiberlog.Infof("Billing: added %d credits to user %s for checkout %s", credits, userID, sess.ID)
	s.notify(ctx, notify.NewEvent(notify.EventCreditsToppedUp, userID, credits, entry.BalanceAfter, sess.ID))
	return nil
}

// claim inserts the purchase row. It reports false when the session was already claimed.
func (s *Service) claim(ctx context.Context, purchase *models.CreditPurchase) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_session_id"}},
		DoNothing: true,
	}).Create(purchase)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if result.Error != nil {
		return false, fmt.Errorf("failed to record purchase: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// resume handles a session that already has a purchase row. A completed purchase is skipped. A
// pending one whose credits are already in the ledger is completed without granting again. A pending
// one with no grant is taken over once it is older than the claim timeout, and reported true.
func (s *Service) resume(ctx context.Context, purchase *models.CreditPurchase) (bool, error) {
	var existing models.CreditPurchase
	err := s.db.WithContext(ctx).Where("stripe_session_id = ?", purchase.StripeSessionID).First(&existing).Error
	if err != nil {
		return false, fmt.Errorf("failed to load purchase %s: %w", purchase.StripeSessionID, err)
	}
	if existing.Status == models.PurchaseCompleted {
		fiberlog.Infof("Billing: checkout %s already processed, skipping", existing.StripeSessionID)
		return false, nil
	}

	var entry models.LedgerEntry
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND reference_id = ?", existing.UserID, models.LedgerEntryAdd, existing.StripeSessionID).
		First(&entry).Error
	switch {
	case err == nil:
		if err := s.complete(ctx, &existing, entry.ID); err != nil {
			return false, fmt.Errorf("failed to complete purchase %s: %w", existing.StripeSessionID, err)
		}
		fiberlog.Infof("Billing: completed pending purchase %s from ledger entry %d", existing.StripeSessionID, entry.ID)
		return false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, fmt.Errorf("failed to look up grant for %s: %w", existing.StripeSessionID, err)
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.CreditPurchase{}).
		Where("id = ? AND status = ? AND updated_at < ?", existing.ID, models.PurchasePending, now.Add(-s.claimTimeout)).
		Update("updated_at", now)
	if result.Error != nil {
		return false, fmt.Errorf("failed to take over purchase %s: %w", existing.StripeSessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, fmt.Errorf("%w: %s", ErrPurchaseInFlight, existing.StripeSessionID)
	}

	fiberlog.Warnf("Billing: resuming abandoned purchase %s", existing.StripeSessionID)
	*purchase = existing
	return true, nil
}

func (s *Service) complete(ctx context.Context, purchase *models.CreditPurchase, entryID uint) error {
	return s.db.WithContext(context.WithoutCancel(ctx)).Model(purchase).Updates(map[string]any{
		"status":          models.PurchaseCompleted,
		"ledger_entry_id": entryID,
	}).Error
}

func (s *Service) release(ctx context.Context, purchase *models.CreditPurchase) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&models.CreditPurchase{}, purchase.ID).Error
	if err != nil {
		fiberlog.Errorf("Billing: failed to release purchase claim %s: %v", purchase.StripeSessionID, err)
	}
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, event)
}

// Purchases lists a user's completed and pending purchases, newest first.
func (s *Service) Purchases(ctx context.Context, userID string, limit int) ([]models.CreditPurchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var purchases []models.CreditPurchase
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}
