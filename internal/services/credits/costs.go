package credits

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Egham-7/letterpress/internal/models"
)

// TokensPerUnit is the number of text tokens billed as one unit.
const TokensPerUnit = 1000

// CostTable maps an operation to its price in credits per unit.
type CostTable map[models.OperationType]int64

// TierTable maps a subscription tier to the credits granted at initialization.
type TierTable map[string]int64

// Config is injected into the ledger at construction. Tests substitute their own tables.
type Config struct {
	Costs       CostTable
	Tiers       TierTable
	DefaultTier string
}

func DefaultConfig() Config {
	return Config{
		Costs: CostTable{
			models.OperationTextGeneration:  1,
			models.OperationTextEnhancement: 1,
			models.OperationImageGeneration: 5,
			models.OperationImageVariation:  3,
			models.OperationImageEdit:       4,
		},
		Tiers: TierTable{
			"starter":      100,
			"growth":       250,
			"professional": 500,
		},
		DefaultTier: "starter",
	}
}

// ConfigFromModel overlays the YAML tables on the defaults.
func ConfigFromModel(c models.CreditsConfig) Config {
	cfg := DefaultConfig()
	for op, cost := range c.Costs {
		cfg.Costs[models.OperationType(strings.ToUpper(string(op)))] = cost
	}
	if len(c.Tiers) > 0 {
		cfg.Tiers = make(TierTable, len(c.Tiers))
		for tier, credits := range c.Tiers {
			cfg.Tiers[strings.ToLower(tier)] = credits
		}
	}
	if c.DefaultTier != "" {
		cfg.DefaultTier = strings.ToLower(c.DefaultTier)
	}
	return cfg
}

func (c Config) Validate() error {
	var problems []string
	if len(c.Costs) == 0 {
		problems = append(problems, "cost table is empty")
	}
	for op, cost := range c.Costs {
		if cost <= 0 {
			problems = append(problems, fmt.Sprintf("cost for %s must be positive, got %d", op, cost))
		}
	}
	if len(c.Tiers) == 0 {
		problems = append(problems, "tier table is empty")
	}
	for tier, credits := range c.Tiers {
		if credits < 0 {
			problems = append(problems, fmt.Sprintf("allocation for tier %s must not be negative, got %d", tier, credits))
		}
	}
	if c.DefaultTier != "" {
		if _, ok := c.Tiers[c.DefaultTier]; !ok {
			problems = append(problems, fmt.Sprintf("default tier %s is not in the tier table", c.DefaultTier))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, strings.Join(problems, "; "))
}

// Cost returns creditsPerUnit(op) * quantity. A zero quantity counts as one unit.
func (t CostTable) Cost(op models.OperationType, quantity int64) (int64, error) {
	perUnit, ok := t[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrUnknownOperation, op)
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return 0, fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidInput, quantity)
	}
	if quantity > math.MaxInt64/perUnit {
		return 0, fmt.Errorf("%w: quantity %d overflows the cost of %s", models.ErrInvalidInput, quantity, op)
	}
	return perUnit * quantity, nil
}

func (t TierTable) Allocation(tier string) (int64, error) {
	credits, ok := t[strings.ToLower(tier)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownTier, tier)
	}
	return credits, nil
}

// UnitsForTokens converts a token count into billable units, ceil(tokens/1000).
func UnitsForTokens(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	return (tokens + TokensPerUnit - 1) / TokensPerUnit
}
