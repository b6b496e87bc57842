package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/notify"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidSignature = errors.New("failed to verify webhook signature")
	ErrPackageNotFound  = errors.New("credit package not found")
	ErrUnknownTierPrice = errors.New("no stripe price configured for tier")
	ErrPurchaseInFlight = errors.New("checkout is being processed by another delivery")
)

const (
	metaUserID  = "user_id"
	metaPackage = "package"
	metaCredits = "credits"
	metaTier    = "tier"

	// A pending purchase older than this is treated as abandoned by a crashed delivery.
	defaultClaimTimeout = 10 * time.Minute
)

// Ledger is what billing needs from the credit ledger.
type Ledger interface {
	Initialize(ctx context.Context, userID, tier string) (*models.CreditBalance, error)
	AddCredits(ctx context.Context, params models.AddCreditsParams) (*models.LedgerEntry, error)
}

type sessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

type Service struct {
	db            *gorm.DB
	ledger        Ledger
	dispatcher    *notify.Dispatcher
	config        models.StripeConfig
	newSession    sessionCreator
	webhookSecret string
	claimTimeout  time.Duration
}

// NewService sets the global Stripe key, as stripe-go's resource packages read it from there.
func NewService(db *gorm.DB, ledger Ledger, dispatcher *notify.Dispatcher, cfg models.StripeConfig) *Service {
	stripe.Key = cfg.SecretKey

	return &Service{
		db:            db,
		ledger:        ledger,
		dispatcher:    dispatcher,
		config:        cfg,
		newSession:    session.New,
		webhookSecret: cfg.WebhookSecret,
		claimTimeout:  defaultClaimTimeout,
	}
}

// AutoMigrate creates the package and purchase tables.
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.CreditPackage{}, &models.CreditPurchase{})
}

// SyncPackages upserts the configured credit packages by name.
func (s *Service) SyncPackages(ctx context.Context) error {
	for _, cfg := range s.config.Packages {
		pkg := models.CreditPackage{
			Name:          strings.ToLower(cfg.Name),
			Description:   cfg.Description,
			Credits:       cfg.Credits,
			PriceCents:    cfg.PriceCents,
			StripePriceID: cfg.StripePriceID,
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "credits", "price_cents", "stripe_price_id", "updated_at"}),
		}).Create(&pkg).Error
		if err != nil {
			return fmt.Errorf("failed to sync credit package %s: %w", cfg.Name, err)
		}
	}
	fiberlog.Infof("Billing: synced %d credit packages", len(s.config.Packages))
	return nil
}

func (s *Service) ListPackages(ctx context.Context) ([]models.CreditPackage, error) {
	var packages []models.CreditPackage
	if err := s.db.WithContext(ctx).Order("credits ASC").Find(&packages).Error; err != nil {
		return nil, fmt.Errorf("failed to list credit packages: %w", err)
	}
	return packages, nil
}

func (s *Service) packageByName(ctx context.Context, name string) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	err := s.db.WithContext(ctx).Where("name = ?", strings.ToLower(name)).First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credit package: %w", err)
	}
	return &pkg, nil
}

// CreateCreditCheckout opens a one-off payment for a credit package.
func (s *Service) CreateCreditCheckout(ctx context.Context, params models.CreateCheckoutParams) (*models.CheckoutSessionResponse, error) {
	if params.UserID == "" || params.PackageName == "" {
		return nil, models.NewValidationError("user and package are required", nil)
	}
	if params.SuccessURL == "" || params.CancelURL == "" {
		return nil, models.NewValidationError("success_url and cancel_url are required", nil)
	}

	pkg, err := s.packageByName(ctx, params.PackageName)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		metaUserID:  params.UserID,
		metaPackage: pkg.Name,
		metaCredits: strconv.FormatInt(pkg.Credits, 10),
	}
	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(pkg.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		Metadata:          metadata,
	}
	sessionParams.Context = ctx
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := s.newSession(sessionParams)
	if err != nil {
		return nil, models.NewProviderError("stripe", "failed to create checkout session", err)
	}

	fiberlog.Infof("Billing: created checkout %s for user %s (package %s)", sess.ID, params.UserID, pkg.Name)
	return &models.CheckoutSessionResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreateSubscriptionCheckout opens a recurring subscription for a tier.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, params models.CreateSubscriptionParams) (*models.CheckoutSessionResponse, error) {
	if params.UserID == "" || params.Tier == "" {
		return nil, models.NewValidationError("user and tier are required", nil)
	}
	if params.SuccessURL == "" || params.CancelURL == "" {
		return nil, models.NewValidationError("success_url and cancel_url are required", nil)
	}

	tier := strings.ToLower(params.Tier)
	priceID, ok := s.config.TierPrices[tier]
	if !ok || priceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTierPrice, params.Tier)
	}

	metadata := map[string]string{
		metaUserID: params.UserID,
		metaTier:   tier,
	}
	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		Metadata:          metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	sessionParams.Context = ctx
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := s.newSession(sessionParams)
	if err != nil {
		return nil, models.NewProviderError("stripe", "failed to create subscription checkout", err)
	}

	fiberlog.Infof("Billing: created subscription checkout %s for user %s (tier %s)", sess.ID, params.UserID, tier)
	return &models.CheckoutSessionResponse{SessionID: sess.ID, URL: sess.URL}, nil
}
