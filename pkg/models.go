// Package pkg re-exports the configuration types callers need when building a server in code.
package pkg

import "github.com/Egham-7/letterpress/internal/models"

type (
	ServerConfig        = models.ServerConfig
	DatabaseConfig      = models.DatabaseConfig
	AnalyticsConfig     = models.AnalyticsConfig
	RedisConfig         = models.RedisConfig
	CreditsConfig       = models.CreditsConfig
	StripeConfig        = models.StripeConfig
	CreditPackageConfig = models.CreditPackageConfig
	AuthConfig          = models.AuthConfig
	ProviderConfig      = models.ProviderConfig
	ProvidersConfig     = models.ProvidersConfig
	PromptCacheConfig   = models.PromptCacheConfig
	RateLimitConfig     = models.RateLimitConfig
	TimeoutConfig       = models.TimeoutConfig
	OperationType       = models.OperationType
)
