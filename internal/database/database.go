package database

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rainbot/rainbot/internal/models"
)

var DB *gorm.DB

// Init opens the relational backend and migrates the schema. dbType is one
// of "sqlite" (pure Go driver), "sqlite3" (cgo driver) or "postgres".
func Init(dbType, dsn string) error {
	db, err := Open(dbType, dsn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open is Init without touching the package-level handle.
func Open(dbType, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	openConns := 0
	isSqlite := false

	switch dbType {
	case "sqlite", "":
		dial = glebarez.Open(dsn)
		openConns = 1
		isSqlite = true
	case "sqlite3":
		dial = sqlite.Open(dsn)
		openConns = 1
		isSqlite = true
	case "postgres":
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite && !strings.Contains(dsn, ":memory:") {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
	}

	if err := db.AutoMigrate(
		&models.GuildSettings{},
		&models.ModCase{},
		&models.ServiceStatus{},
		&models.APIHealthStat{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized (%s)", dbType)
	return db, nil
}

// Close closes the package-level handle.
func Close() {
	if DB == nil {
		return
	}
	if sqldb, err := DB.DB(); err == nil {
		sqldb.Close()
	}
}

const maxRetries = 3

// WithRetry retries transient failures with a short linear backoff. Not-found
// and constraint errors are returned immediately.
func WithRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, err)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, models.ErrDuplicateCase):
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "could not serialize")
}
