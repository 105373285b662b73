package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// ErrStoreUnavailable indicates the store file could not be opened or the
// write lock could not be acquired within the busy timeout. Retryable.
var ErrStoreUnavailable = errors.New("store unavailable")

// DefaultBusyTimeout is how long a writer waits for the SQLite write lock
// before failing. Generous because the store file lives on a network share.
const DefaultBusyTimeout = 30 * time.Second

// Connector opens one short-lived connection to the shared store file per
// operation. Connections are never pooled or cached: the file may be briefly
// unavailable or held by a peer process, and a stale handle over a network
// mount is worse than the cost of reopening.
type Connector struct {
	path        string
	busyTimeout time.Duration
}

// NewConnector creates a connector for the store file at path.
func NewConnector(path string, busyTimeout time.Duration) *Connector {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	return &Connector{path: path, busyTimeout: busyTimeout}
}

// Path returns the store file path.
func (c *Connector) Path() string {
	return c.path
}

// Exists reports whether the store file exists.
func (c *Connector) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// DSN builds the SQLite connection string with the pragmas required for
// shared-folder access: WAL journaling, a busy-wait timeout, NORMAL
// synchronous durability and foreign key enforcement.
func (c *Connector) DSN() string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprintf("%d", c.busyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "on")
	// timestamps come back in UTC regardless of the machine's zone
	q.Set("_loc", "UTC")
	return fmt.Sprintf("file:%s?%s", c.path, q.Encode())
}

func (c *Connector) open() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(c.DSN()), &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// WithConn opens a fresh connection, runs fn against it and closes the
// connection on every exit path. Used for reads; mutations go through WithTx.
func (c *Connector) WithConn(ctx context.Context, fn func(db *gorm.DB) error) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer closeDB(db)

	if err := fn(db.WithContext(ctx)); err != nil {
		return TranslateError(err)
	}
	return nil
}

// WithTx opens a fresh connection and runs fn inside a single transaction.
// The transaction either fully commits or fully rolls back; a writer that
// cannot acquire the lock within the busy timeout fails with
// ErrStoreUnavailable instead of corrupting data.
func (c *Connector) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer closeDB(db)

	if err := db.WithContext(ctx).Transaction(fn); err != nil {
		return TranslateError(err)
	}
	return nil
}

// Initialize creates the store file directory, migrates the schema and
// seeds default categories and settings into an empty store.
func (c *Connector) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating data directory: %v", ErrStoreUnavailable, err)
	}

	db, err := c.open()
	if err != nil {
		return err
	}
	defer closeDB(db)

	if err := db.WithContext(ctx).AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", TranslateError(err))
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Category{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Create(&models.DefaultCategories).Error; err != nil {
				return fmt.Errorf("failed to seed categories: %w", err)
			}
		}

		if err := tx.Model(&models.Setting{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			for key, value := range models.DefaultSettings {
				if err := tx.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
					return fmt.Errorf("failed to seed setting %s: %w", key, err)
				}
			}
		}
		return nil
	})
}

// TranslateError maps low-level SQLite failures onto ErrStoreUnavailable so
// callers can distinguish retryable lock contention from real errors.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return err
}
