package models

type CreditPackageConfig struct {
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitzero" yaml:"description"`
	Credits       int64  `json:"credits" yaml:"credits"`
	PriceCents    int64  `json:"price_cents" yaml:"price_cents"`
	StripePriceID string `json:"stripe_price_id" yaml:"stripe_price_id"`
}

type StripeConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
	// TierPrices maps a subscription tier to its recurring Stripe price id.
	TierPrices map[string]string     `json:"tier_prices,omitzero" yaml:"tier_prices"`
	Packages   []CreditPackageConfig `json:"packages,omitzero" yaml:"packages"`
}
