// Package database opens the gorm connection and migrates the schema.
package database

import (
	"fmt"

	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a database for the configured driver.
func Connect(cfg *config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	return gdb, nil
}

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Style{},
		&model.Job{},
		&model.Playlist{},
		&model.Generation{},
		&model.Analysis{},
		&model.ClaimedObject{},
		&model.UsageEvent{},
	}
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	stmts := []string{
		`create index if not exists idx_jobs_user_status on jobs(user_id, status)`,
		`create index if not exists idx_generations_playlist_created on generations(playlist_id, created_at)`,
		`create index if not exists idx_claims_playlist_current on claimed_objects(playlist_id, superseded_at)`,
	}
	if gdb.Dialector.Name() == "mysql" {
		// mysql has no "if not exists" for indexes; gorm tags cover the hot paths
		return nil
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "warn", "warning":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
