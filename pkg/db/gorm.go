package db

import (
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type Config struct {
	// DSN selects the driver: postgres:// and postgresql:// URLs open
	// PostgreSQL, anything else is treated as a SQLite file path. Self-hosted
	// installs default to SQLite.
	DSN       string
	LogSQL    bool
	DisableFK bool // set true if you manage FKs via SQL migrations
}

func OpenGorm(cfg Config) (*gorm.DB, error) {
	lvl := logger.Silent
	if cfg.LogSQL {
		lvl = logger.Info
	}

	var dial gorm.Dialector
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		dial = postgres.Open(cfg.DSN)
	} else {
		dial = sqlite.Open(cfg.DSN)
	}

	return gorm.Open(dial, &gorm.Config{
		Logger: logger.New(log.New(log.Writer(), "", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		DisableForeignKeyConstraintWhenMigrating: cfg.DisableFK,
		// Unique violations surface as gorm.ErrDuplicatedKey on both drivers,
		// which the store maps to domain errors.
		TranslateError: true,
	})
}
