package db

import (
	"log"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/phoenix-ai/platform/internal/assistant"
	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/models"
)

// Connect opens MySQL for a regular DSN, or a pure-Go SQLite database when
// the DSN is prefixed with "sqlite:" (local runs).
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}

func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		gdb, err := gorm.Open(gormsqlite.Open(path), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers anyway
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return gdb, nil
	}
	return gorm.Open(mysql.Open(dsn), cfg)
}

// Migrate creates or updates every table the pipeline reads or writes.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.CreditTransaction{},
		&models.Setting{},
		&assistant.Assistant{},
		&chat.Conversation{},
		&chat.Message{},
	)
}
