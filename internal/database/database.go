// Package database opens the corkboard store and keeps its schema current.
package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/notifications"
	"github.com/MarcoPoloResearchLab/corkboard/internal/versioning"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the store backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&boards.Board{},
		&boards.GroupMember{},
		&boards.Element{},
		&boards.BoardInvite{},
		&versioning.ElementVersion{},
		&notifications.CalendarEvent{},
		&notifications.EventInvite{},
		&notifications.LogEntry{},
		&notifications.Notification{},
		&migrationRecord{},
	}
}

// Open connects to the configured store, migrates the schema and applies
// pending data migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite has no row locks; one connection serializes writers instead.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", cfg.Driver))
	return db, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
