package builder

import (
	"strings"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
)

// WithOperationCost overrides the credits charged per unit of op.
func (b *Builder) WithOperationCost(op models.OperationType, credits int64) *Builder {
	b.cfg.Credits.Costs[models.OperationType(strings.ToUpper(string(op)))] = credits
	return b
}

// WithTier sets the starting allocation for a subscription tier. Any tier set here replaces the
// built-in tier table.
func (b *Builder) WithTier(tier string, credits int64) *Builder {
	b.cfg.Credits.Tiers[strings.ToLower(tier)] = credits
	return b
}

func (b *Builder) DefaultTier(tier string) *Builder {
	b.cfg.Credits.DefaultTier = strings.ToLower(tier)
	return b
}

// WithReservationAudit sets how often pending reservations are checked and the age at which they
// are reported.
func (b *Builder) WithReservationAudit(interval, staleAfter time.Duration) *Builder {
	b.cfg.Credits.AuditIntervalMinutes = int(interval / time.Minute)
	b.cfg.Credits.StaleReservationMinutes = int(staleAfter / time.Minute)
	return b
}
