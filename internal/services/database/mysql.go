package database

import (
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"
	"gorm.io/driver/mysql"
)

func newMySQL(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			config.Username,
			config.Password,
			config.Host,
			config.Port,
			config.Database,
		)
	}

	return open(config, mysql.Open(dsn), "mysql", gormConfig())
}
