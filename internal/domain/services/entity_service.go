package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

// EntityService manages the legal entity reference list that documents can
// declare applicability to.
type EntityService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewEntityService(db *database.Connector, log *logger.Logger) *EntityService {
	return &EntityService{db: db, log: log}
}

// List returns all entities sorted by name.
func (s *EntityService) List(ctx context.Context) ([]models.Entity, error) {
	var entities []models.Entity
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Order("name ASC").Find(&entities).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

// Create adds a new entity name. Names are unique case-insensitively.
func (s *EntityService) Create(ctx context.Context, actor authz.Actor, name string) (*models.Entity, error) {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, validationErr("name", "entity name must be 1-100 characters")
	}

	entity := models.Entity{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Entity{}).Where("LOWER(name) = ?", strings.ToLower(name)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return validationErr("name", "entity %q already exists", name)
		}
		return tx.Create(&entity).Error
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	s.log.Info("entity created", "name", name, "by", actor.Username)
	return &entity, nil
}

// GetOrCreate returns the entity matching name (case-insensitively),
// creating it when absent.
func (s *EntityService) GetOrCreate(ctx context.Context, actor authz.Actor, name string) (*models.Entity, error) {
	name = strings.TrimSpace(name)

	var entity models.Entity
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("LOWER(name) = ?", strings.ToLower(name)).First(&entity).Error
	})
	if err == nil {
		return &entity, nil
	}
	if !isRecordNotFound(err) {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}
	return s.Create(ctx, actor, name)
}

// Delete removes an entity from the reference list. Deletion is refused
// while any document still declares applicability to the entity.
func (s *EntityService) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return err
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var entity models.Entity
		if err := tx.First(&entity, "id = ?", id).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("entity", id)
			}
			return err
		}

		// entity lists are semicolon-joined, so match whole elements and
		// escape LIKE metacharacters in the name
		var inUse int64
		if err := tx.Model(&models.Document{}).
			Where(`';' || applicable_entity || ';' LIKE ? ESCAPE '\'`, entityElementPattern(entity.Name)).
			Count(&inUse).Error; err != nil {
			return err
		}
		if inUse > 0 {
			return validationErr("name", "entity %q is referenced by %d document(s)", entity.Name, inUse)
		}

		return tx.Delete(&models.Entity{}, "id = ?", id).Error
	})
	if err != nil {
		if isNotFound(err) || IsValidation(err) {
			return err
		}
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	s.log.Info("entity deleted", "id", id, "by", actor.Username)
	return nil
}
