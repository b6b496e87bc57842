package builder

import (
	"strings"

	"github.com/Egham-7/letterpress/internal/models"
)

func (b *Builder) WithStripe(secretKey, webhookSecret string) *Builder {
	if b.cfg.Billing == nil {
		b.cfg.Billing = &models.StripeConfig{}
	}
	b.cfg.Billing.SecretKey = secretKey
	b.cfg.Billing.WebhookSecret = webhookSecret
	return b
}

// AddCreditPackage registers a one-off top-up package. Requires WithStripe.
func (b *Builder) AddCreditPackage(pkg models.CreditPackageConfig) *Builder {
	if b.cfg.Billing == nil {
		b.cfg.Billing = &models.StripeConfig{}
	}
	b.cfg.Billing.Packages = append(b.cfg.Billing.Packages, pkg)
	return b
}

// WithTierPrice maps a subscription tier to its recurring Stripe price.
func (b *Builder) WithTierPrice(tier, priceID string) *Builder {
	if b.cfg.Billing == nil {
		b.cfg.Billing = &models.StripeConfig{}
	}
	if b.cfg.Billing.TierPrices == nil {
		b.cfg.Billing.TierPrices = make(map[string]string)
	}
	b.cfg.Billing.TierPrices[strings.ToLower(tier)] = priceID
	return b
}

func (b *Builder) GetStripeConfig() (secretKey, webhookSecret string, configured bool) {
	if b.cfg.Billing != nil {
		return b.cfg.Billing.SecretKey, b.cfg.Billing.WebhookSecret, true
	}
	return "", "", false
}
