package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

// CategoryService manages the document category reference list.
type CategoryService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewCategoryService(db *database.Connector, log *logger.Logger) *CategoryService {
	return &CategoryService{db: db, log: log}
}

// List returns categories ordered by sort order then code. When activeOnly
// is set, deactivated categories are excluded.
func (s *CategoryService) List(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	var categories []models.Category
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		query := db.Order("sort_order ASC, code ASC")
		if activeOnly {
			query = query.Where("is_active = ?", true)
		}
		return query.Find(&categories).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// Get returns one category by code.
func (s *CategoryService) Get(ctx context.Context, code string) (*models.Category, error) {
	var category models.Category
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("code = ?", code).First(&category).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("category", code)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &category, nil
}

// UsageCounts returns the number of documents filed under each category
// code. Codes with no documents are absent from the map.
func (s *CategoryService) UsageCounts(ctx context.Context) (map[string]int64, error) {
	var rows []groupedCount
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Document{}).
			Select("category AS key, COUNT(*) AS count").
			Group("category").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count category usage: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return counts, nil
}

// Create adds a new category. Codes are uppercased and must be unique.
func (s *CategoryService) Create(ctx context.Context, actor authz.Actor, code, name string, sortOrder int) (*models.Category, error) {
	if err := authz.Authorize(actor, authz.CapManageCategories); err != nil {
		return nil, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || len(code) > 20 {
		return nil, validationErr("code", "category code must be 1-20 characters")
	}
	if name == "" {
		return nil, validationErr("name", "category name is required")
	}
	if sortOrder <= 0 {
		sortOrder = 99
	}

	category := models.Category{
		Code:      code,
		Name:      name,
		IsActive:  true,
		SortOrder: sortOrder,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Category{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return validationErr("code", "category %s already exists", code)
		}
		return tx.Create(&category).Error
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	s.log.Info("category created", "code", code, "by", actor.Username)
	return &category, nil
}

// Rename updates a category's display name.
func (s *CategoryService) Rename(ctx context.Context, actor authz.Actor, code, name string) error {
	if err := authz.Authorize(actor, authz.CapManageCategories); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return validationErr("name", "category name is required")
	}
	return s.updateCategory(ctx, code, map[string]interface{}{"name": name})
}

// SetActive deactivates or reactivates a category. Deactivation hides the
// category from pick lists; existing documents keep their code.
func (s *CategoryService) SetActive(ctx context.Context, actor authz.Actor, code string, active bool) error {
	if err := authz.Authorize(actor, authz.CapManageCategories); err != nil {
		return err
	}
	if err := s.updateCategory(ctx, code, map[string]interface{}{"is_active": active}); err != nil {
		return err
	}
	s.log.Info("category active flag changed", "code", code, "active", active, "by", actor.Username)
	return nil
}

func (s *CategoryService) updateCategory(ctx context.Context, code string, values map[string]interface{}) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.Category{}).Where("code = ?", code).Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFoundErr("category", code)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to update category %s: %w", code, err)
	}
	return nil
}
