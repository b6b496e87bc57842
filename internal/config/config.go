package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Egham-7/letterpress/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// Config represents the complete application configuration
type Config struct {
	Server      models.ServerConfig       `yaml:"server"`
	Database    *models.DatabaseConfig    `yaml:"database,omitempty"`
	Analytics   *models.AnalyticsConfig   `yaml:"analytics,omitempty"`
	Redis       *models.RedisConfig       `yaml:"redis,omitempty"`
	Credits     models.CreditsConfig      `yaml:"credits"`
	Billing     *models.StripeConfig      `yaml:"billing,omitempty"`
	Auth        models.AuthConfig         `yaml:"auth"`
	Providers   models.ProvidersConfig    `yaml:"providers"`
	PromptCache *models.PromptCacheConfig `yaml:"prompt_cache,omitempty"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration after substituting environment variables.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.normalize()
	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// normalize lowercases tier names and uppercases operation names for case-insensitive lookups.
func (c *Config) normalize() {
	if c.Credits.Costs != nil {
		costs := make(map[models.OperationType]int64, len(c.Credits.Costs))
		for op, cost := range c.Credits.Costs {
			costs[models.OperationType(strings.ToUpper(string(op)))] = cost
		}
		c.Credits.Costs = costs
	}
	if c.Credits.Tiers != nil {
		tiers := make(map[string]int64, len(c.Credits.Tiers))
		for tier, credits := range c.Credits.Tiers {
			tiers[strings.ToLower(tier)] = credits
		}
		c.Credits.Tiers = tiers
	}
	c.Credits.DefaultTier = strings.ToLower(c.Credits.DefaultTier)
	c.Providers.Default = models.ProviderName(strings.ToLower(string(c.Providers.Default)))

	if c.Billing != nil && c.Billing.TierPrices != nil {
		prices := make(map[string]string, len(c.Billing.TierPrices))
		for tier, price := range c.Billing.TierPrices {
			prices[strings.ToLower(tier)] = price
		}
		c.Billing.TierPrices = prices
	}
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// RequestTimeout returns the per-request deadline, 30s when unset.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutMs > 0 {
		return time.Duration(c.Server.RequestTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// StaleReservationAge returns the age after which pending reservations are reported.
func (c *Config) StaleReservationAge() time.Duration {
	if c.Credits.StaleReservationMinutes > 0 {
		return time.Duration(c.Credits.StaleReservationMinutes) * time.Minute
	}
	return time.Hour
}

func (c *Config) AuditInterval() time.Duration {
	if c.Credits.AuditIntervalMinutes > 0 {
		return time.Duration(c.Credits.AuditIntervalMinutes) * time.Minute
	}
	return 15 * time.Minute
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var missing []string
	var invalid []string

	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Server.AllowedOrigins == "" {
		missing = append(missing, "server.allowed_origins")
	}

	if c.Database == nil {
		missing = append(missing, "database")
	} else if c.Database.Type == models.ClickHouse {
		invalid = append(invalid, "database.type: clickhouse cannot hold the credit ledger, use it under analytics")
	}

	if c.Analytics != nil && c.Analytics.Database.Type != models.ClickHouse {
		invalid = append(invalid, "analytics.database.type must be clickhouse")
	}

	for op, cost := range c.Credits.Costs {
		if cost <= 0 {
			invalid = append(invalid, fmt.Sprintf("credits.costs.%s must be positive", op))
		}
	}
	for tier, credits := range c.Credits.Tiers {
		if credits < 0 {
			invalid = append(invalid, fmt.Sprintf("credits.tiers.%s must not be negative", tier))
		}
	}
	if c.Credits.DefaultTier != "" && len(c.Credits.Tiers) > 0 {
		if _, ok := c.Credits.Tiers[c.Credits.DefaultTier]; !ok {
			invalid = append(invalid, fmt.Sprintf("credits.default_tier %s is not a configured tier", c.Credits.DefaultTier))
		}
	}

	if c.Billing != nil {
		if c.Billing.SecretKey == "" {
			missing = append(missing, "billing.secret_key")
		}
		if c.Billing.WebhookSecret == "" {
			missing = append(missing, "billing.webhook_secret")
		}
		for i, pkg := range c.Billing.Packages {
			if pkg.Name == "" || pkg.StripePriceID == "" || pkg.Credits <= 0 {
				invalid = append(invalid, fmt.Sprintf("billing.packages[%d] needs name, stripe_price_id and positive credits", i))
			}
		}
	}

	if c.Auth.ClerkConfig != nil && c.Auth.ClerkConfig.SecretKey == "" {
		missing = append(missing, "auth.clerk.secret_key")
	}

	if c.Providers.Default != "" {
		if _, ok := c.Providers.Get(c.Providers.Default); !ok {
			invalid = append(invalid, fmt.Sprintf("providers.default %s has no api_key configured", c.Providers.Default))
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return &ValidationError{MissingFields: missing, InvalidFields: invalid}
	}

	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	MissingFields []string
	InvalidFields []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing required configuration fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.InvalidFields, "; "))
	}
	return strings.Join(parts, "; ")
}
