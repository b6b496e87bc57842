package database

import (
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"
	"gorm.io/driver/postgres"
)

func newPostgreSQL(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host,
			config.Port,
			config.Username,
			config.Password,
			config.Database,
			getSSLMode(config.SSLMode),
		)
	}

	return open(config, postgres.Open(dsn), "postgres", gormConfig())
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
