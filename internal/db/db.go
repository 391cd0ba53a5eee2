package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/models"
)

// DB is the process-wide connection used by the CLI commands. The server
// passes its own handle to every component instead.
var DB *gorm.DB

// sqlitePragmas are applied to every SQLite connection.
const sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// Initialize sets up the global database connection and runs migrations
func Initialize(cfg config.Database, log *slog.Logger) error {
	conn, err := Open(cfg, log)
	if err != nil {
		return err
	}
	DB = conn
	return nil
}

// Open connects to the configured database and runs migrations.
func Open(cfg config.Database, log *slog.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent), // Quiet by default
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite has a single writer; one pooled connection keeps
		// transactions from tripping over SQLITE_BUSY.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if log != nil {
		log.Info("database opened", "driver", cfg.Driver, "path", cfg.Path)
	}
	return conn, nil
}

func dialectorFor(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		if cfg.Path != ":memory:" {
			// Ensure the directory exists
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.Path + sqlitePragmas), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate creates/updates the database schema
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.User{},
		&models.Task{},
		&models.TaskAssignee{},
		&models.Room{},
		&models.RoomParticipant{},
		&models.Message{},
		&models.MessageAttachment{},
		&models.Notification{},
		&models.Assignment{},
		&models.ActivityLog{},
	)
}

// Close closes the database connection
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTimeout binds conn to a context that expires after d. A zero d
// leaves ctx as is.
func WithTimeout(ctx context.Context, conn *gorm.DB, d time.Duration) (*gorm.DB, context.CancelFunc) {
	if d <= 0 {
		return conn.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return conn.WithContext(ctx), cancel
}
