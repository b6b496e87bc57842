package database

import (
	"fmt"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	"gorm.io/gorm"
)

// DB wraps a gorm connection with the capabilities of the driver behind it.
type DB struct {
	*gorm.DB
	config     models.DatabaseConfig
	driverName string
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) Ping() error {
	if db.DB == nil {
		return fmt.Errorf("database not connected")
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (db *DB) DriverName() string {
	return db.driverName
}

// SupportsRowLocking reports whether SELECT ... FOR UPDATE actually locks rows on this driver.
func (db *DB) SupportsRowLocking() bool {
	switch db.driverName {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

// SupportsTransactions reports whether the driver can group writes atomically.
// ClickHouse is append-only and is only used for the analytics mirror.
func (db *DB) SupportsTransactions() bool {
	return db.driverName != "clickhouse"
}

func (db *DB) setConnectionPool() {
	if db.DB == nil {
		return
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}

	if db.config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(db.config.MaxOpenConns)
	}
	if db.config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(db.config.MaxIdleConns)
	}
	if db.config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(db.config.ConnMaxLifetime) * time.Second)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

func open(config models.DatabaseConfig, dialector gorm.Dialector, driverName string, gormCfg *gorm.Config) (*DB, error) {
	gormDB, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}

	db := &DB{
		DB:         gormDB,
		config:     config,
		driverName: driverName,
	}

	db.setConnectionPool()

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driverName, err)
	}

	return db, nil
}

func New(config models.DatabaseConfig) (*DB, error) {
	switch config.Type {
	case models.PostgreSQL:
		return newPostgreSQL(config)
	case models.MySQL:
		return newMySQL(config)
	case models.SQLite:
		return newSQLite(config)
	case models.ClickHouse:
		return newClickHouse(config)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// Migrate creates or updates the ledger and billing tables.
func Migrate(db *DB) error {
	if !db.SupportsTransactions() {
		return fmt.Errorf("%s cannot hold the credit ledger", db.driverName)
	}
	if err := db.AutoMigrate(
		&models.CreditBalance{},
		&models.LedgerEntry{},
		&models.CreditPackage{},
		&models.CreditPurchase{},
	); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return nil
}
