package core

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenStore opens the backing store and runs schema migration. Supported
// drivers are sqlite, postgres, and mysql; the default DSN is an in-memory
// sqlite database.
func OpenStore(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// SQLite serializes writers itself; a single connection avoids
	// "database is locked" churn under concurrent appends.
	if _, ok := dialector.(*sqlite.Dialector); ok {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return db, nil
}
