package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/librarian-project/librarian/config"
)

// Opens the metadata database named by the global configuration, creating
// the schema if necessary. SQLite serves single-node deployments and
// tests; PostgreSQL serves deployments where several consumers share the
// send queue.
func Open() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Database.Type {
	case "sqlite":
		path := config.Database.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("couldn't create database directory: %w", err)
			}
			// WAL allows concurrent readers alongside the single writer
			path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(path)
	case "postgres":
		dialector = postgres.Open(config.Database.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to database: %w", err)
	}

	if config.Database.Type == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if config.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(config.Database.MaxOpenConns)
		}
		if config.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(config.Database.MaxIdleConns)
		}
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("couldn't migrate database schema: %w", err)
	}
	return db, nil
}

// reports whether the error is a unique constraint violation (SQLite or
// PostgreSQL phrasing)
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}
