package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

// SettingsService reads and writes process-wide persisted configuration
// entries with typed accessors and defaults when a key is absent.
type SettingsService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewSettingsService(db *database.Connector, log *logger.Logger) *SettingsService {
	return &SettingsService{db: db, log: log}
}

// Get returns a setting value, falling back to the seeded default and then
// to the empty string.
func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("key = ?", key).First(&setting).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return models.DefaultSettings[key], nil
		}
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return setting.Value, nil
}

// GetAll returns every persisted setting keyed by name.
func (s *SettingsService) GetAll(ctx context.Context) (map[string]string, error) {
	var settings []models.Setting
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Find(&settings).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	result := make(map[string]string, len(settings))
	for key, value := range models.DefaultSettings {
		result[key] = value
	}
	for _, setting := range settings {
		result[setting.Key] = setting.Value
	}
	return result, nil
}

// Set upserts one setting with updated-at/updated-by metadata.
func (s *SettingsService) Set(ctx context.Context, actor authz.Actor, key, value string) error {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return err
	}

	now := time.Now().UTC()
	userID := actor.UserID
	setting := models.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: &now,
		UpdatedBy: &userID,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at", "updated_by"}),
		}).Create(&setting).Error
	})
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	s.log.Info("setting updated", "key", key, "by", actor.Username)
	return nil
}

// Update applies several settings in one transaction.
func (s *SettingsService) Update(ctx context.Context, actor authz.Actor, values map[string]string) error {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return err
	}

	now := time.Now().UTC()
	userID := actor.UserID

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		for key, value := range values {
			setting := models.Setting{
				Key:       key,
				Value:     value,
				UpdatedAt: &now,
				UpdatedBy: &userID,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at", "updated_by"}),
			}).Create(&setting).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	s.log.Info("settings updated", "count", len(values), "by", actor.Username)
	return nil
}

// CompanyName returns the configured company name.
func (s *SettingsService) CompanyName(ctx context.Context) (string, error) {
	return s.Get(ctx, "company_name")
}

// WarningThresholdDays returns the "due soon" threshold.
func (s *SettingsService) WarningThresholdDays(ctx context.Context) (int, error) {
	return s.getInt(ctx, "warning_threshold_days", 30)
}

// UpcomingThresholdDays returns the "upcoming" threshold.
func (s *SettingsService) UpcomingThresholdDays(ctx context.Context) (int, error) {
	return s.getInt(ctx, "upcoming_threshold_days", 90)
}

// DefaultReviewFrequency returns the frequency preselected for new documents.
func (s *SettingsService) DefaultReviewFrequency(ctx context.Context) (models.ReviewFrequency, error) {
	value, err := s.Get(ctx, "default_review_frequency")
	if err != nil {
		return "", err
	}
	frequency := models.ReviewFrequency(value)
	if !frequency.Valid() {
		return models.FrequencyAnnual, nil
	}
	return frequency, nil
}

func (s *SettingsService) getInt(ctx context.Context, key string, fallback int) (int, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback, nil
	}
	return parsed, nil
}
