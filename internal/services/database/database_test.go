package database

import (
	"fmt"
	"testing"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/google/uuid"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.DatabaseConfig
	}{
		{"unknown driver", models.DatabaseConfig{Type: "oracle"}},
		{"sqlite without path", models.DatabaseConfig{Type: models.SQLite}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if db, err := New(tt.cfg); err == nil {
				_ = db.Close()
				t.Error("New() should fail")
			}
		})
	}
}

func TestSQLite_MigratesLedgerTables(t *testing.T) {
	db, err := New(models.DatabaseConfig{
		Type: models.SQLite,
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if db.DriverName() != "sqlite3" || db.SupportsRowLocking() || !db.SupportsTransactions() {
		t.Errorf("capabilities = %s rowlock=%v tx=%v", db.DriverName(), db.SupportsRowLocking(), db.SupportsTransactions())
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	for _, table := range []any{&models.CreditBalance{}, &models.LedgerEntry{}, &models.CreditPackage{}, &models.CreditPurchase{}} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table for %T missing", table)
		}
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		t.Fatal(err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestMigrate_RefusesClickHouse(t *testing.T) {
	db := &DB{driverName: "clickhouse"}
	if err := Migrate(db); err == nil {
		t.Error("Migrate() should refuse an append-only driver")
	}
}
