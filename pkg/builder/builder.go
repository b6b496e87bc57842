// Package builder provides a fluent interface for building letterpress configurations in code.
package builder

import (
	"github.com/Egham-7/letterpress/internal/config"
	"github.com/Egham-7/letterpress/internal/models"
	"github.com/gofiber/fiber/v2"
)

type Builder struct {
	cfg             *config.Config
	middlewares     []fiber.Handler
	rateLimitConfig *models.RateLimitConfig
	timeoutConfig   *models.TimeoutConfig
}

// New creates a builder with development defaults and the built-in credit tables.
func New() *Builder {
	return &Builder{
		cfg: &config.Config{
			Server: models.ServerConfig{
				Port:           "8080",
				AllowedOrigins: "*",
				Environment:    "development",
				LogLevel:       "info",
			},
			Credits: models.CreditsConfig{
				Costs: make(map[models.OperationType]int64),
				Tiers: make(map[string]int64),
			},
			Providers: models.ProvidersConfig{Default: models.ProviderOpenAI},
		},
		middlewares: []fiber.Handler{},
	}
}

func (b *Builder) Build() *config.Config {
	return b.cfg
}

func (b *Builder) GetMiddlewares() []fiber.Handler {
	return b.middlewares
}

func (b *Builder) GetRateLimitConfig() *models.RateLimitConfig {
	return b.rateLimitConfig
}

func (b *Builder) GetTimeoutConfig() *models.TimeoutConfig {
	return b.timeoutConfig
}
