// Package database opens the GORM connection for SaveRelay.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/saverelay/saverelay/pkg/config"
)

// DB wraps the GORM DB connection with driver context.
type DB struct {
	*gorm.DB
	Driver string
}

// New creates a database connection based on configuration.
func New(cfg *config.Config) (*DB, error) {
	// Only log slow queries (>1 second) and errors.
	slowLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormConfig := &gorm.Config{Logger: slowLogger}

	var db *gorm.DB
	var err error

	driver := cfg.DatabaseDriver
	dsn := cfg.CleanDSN()

	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file::memory:") {
			dir := filepath.Dir(dsn)
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		if err == nil {
			// WAL mode allows concurrent readers while a writer is active;
			// busy_timeout makes SQLite wait instead of returning
			// SQLITE_BUSY when polls and creates overlap.
			db.Exec("PRAGMA journal_mode=WAL")
			db.Exec("PRAGMA busy_timeout = 5000")
			db.Exec("PRAGMA foreign_keys = ON")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}

	if driver == "sqlite" {
		// WAL supports concurrent readers alongside a single writer; a few
		// connections keep read-heavy status polling off the write path.
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// IsPostgres returns true if using PostgreSQL.
func (db *DB) IsPostgres() bool { return db.Driver == "postgres" }

// IsSQLite returns true if using SQLite.
func (db *DB) IsSQLite() bool { return db.Driver == "sqlite" }

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
