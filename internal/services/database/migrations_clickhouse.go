package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunClickHouseMigrations creates the analytics tables directly; AutoMigrate is unreliable on ClickHouse.
func RunClickHouseMigrations(db *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			entry_id UInt64,
			user_id String,
			event String,
			kind String,
			category String,
			amount Int64,
			balance_before Int64,
			balance_after Int64,
			reference_id String,
			context_tokens Int64,
			description String,
			created_at DateTime,
			recorded_at DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (user_id, created_at, entry_id)`,

		`ALTER TABLE ledger_events ADD COLUMN IF NOT EXISTS context_tokens Int64`,
	}

	for _, query := range queries {
		if err := db.Exec(query).Error; err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}
