package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policyhub.db")
	c := NewConnector(path, 5*time.Second)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestConnector_DSN(t *testing.T) {
	c := NewConnector("/shared/data/policyhub.db", 30*time.Second)
	dsn := c.DSN()
	assert.Contains(t, dsn, "file:/shared/data/policyhub.db?")
	assert.Contains(t, dsn, "_busy_timeout=30000")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_synchronous=NORMAL")
	assert.Contains(t, dsn, "_foreign_keys=on")
}

func TestConnector_Initialize_SeedsDefaults(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	assert.True(t, c.Exists())

	var categories int64
	var settings int64
	err := c.WithConn(ctx, func(db *gorm.DB) error {
		if err := db.Model(&models.Category{}).Count(&categories).Error; err != nil {
			return err
		}
		return db.Model(&models.Setting{}).Count(&settings).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(models.DefaultCategories)), categories)
	assert.Equal(t, int64(len(models.DefaultSettings)), settings)
}

func TestConnector_Initialize_Idempotent(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))

	var categories int64
	err := c.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Category{}).Count(&categories).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(models.DefaultCategories)), categories)
}

func TestConnector_WithTx_RollsBackOnError(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		entity := models.Entity{Name: "Doomed Fund"}
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	err = c.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Entity{}).Count(&count).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestConnector_WithConn_ContextCancelled(t *testing.T) {
	c := newTestConnector(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WithConn(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).Find(&[]models.Setting{}).Error
	})
	assert.Error(t, err)
}

func TestTranslateError(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.ErrorIs(t, TranslateError(busy), ErrStoreUnavailable)

	locked := sqlite3.Error{Code: sqlite3.ErrLocked}
	assert.ErrorIs(t, TranslateError(locked), ErrStoreUnavailable)

	other := errors.New("plain")
	assert.Equal(t, other, TranslateError(other))

	assert.NoError(t, TranslateError(nil))
}
