package database

import (
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"
	"gorm.io/driver/sqlite"
)

func newSQLite(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = config.FilePath
	}
	if dsn == "" {
		return nil, fmt.Errorf("file_path is required for SQLite")
	}

	// SQLite allows a single writer; one connection keeps ledger transactions from failing with SQLITE_BUSY.
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 1
	}

	return open(config, sqlite.Open(dsn), "sqlite3", gormConfig())
}
