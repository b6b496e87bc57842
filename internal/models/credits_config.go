package models

// CreditsConfig is the YAML shape of the cost and tier tables.
type CreditsConfig struct {
	Costs       map[OperationType]int64 `json:"costs,omitzero" yaml:"costs"`
	Tiers       map[string]int64        `json:"tiers,omitzero" yaml:"tiers"`
	DefaultTier string                  `json:"default_tier,omitzero" yaml:"default_tier"`

	// StaleReservationMinutes is the age after which a pending reservation is reported.
	StaleReservationMinutes int `json:"stale_reservation_minutes,omitzero" yaml:"stale_reservation_minutes"`
	AuditIntervalMinutes    int `json:"audit_interval_minutes,omitzero" yaml:"audit_interval_minutes"`
}

// AnalyticsConfig enables the ClickHouse mirror of ledger entries.
type AnalyticsConfig struct {
	Database   DatabaseConfig `json:"database" yaml:"database"`
	Workers    int            `json:"workers,omitzero" yaml:"workers"`
	BufferSize int            `json:"buffer_size,omitzero" yaml:"buffer_size"`
}
