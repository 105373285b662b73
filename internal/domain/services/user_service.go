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

// UserService manages user accounts, roles and the restricted-editor
// allow-lists. All mutations require the manage-users capability.
type UserService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewUserService(db *database.Connector, log *logger.Logger) *UserService {
	return &UserService{db: db, log: log}
}

// CreateUserParams describes a new account.
type CreateUserParams struct {
	Username string
	FullName string
	Email    string
	Role     models.UserRole
	Password string
}

// Create adds a new account. The user must change the initial password at
// first login.
func (s *UserService) Create(ctx context.Context, actor authz.Actor, p CreateUserParams) (*models.User, error) {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(strings.ToLower(p.Username))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.FullName) == "" {
		return nil, validationErr("full_name", "full name is required")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return nil, validationErr("email", "email address is malformed")
	}
	if !p.Role.Valid() {
		return nil, validationErr("role", "unknown role %s", p.Role)
	}
	if err := validatePassword(p.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	creatorID := actor.UserID
	user := models.User{
		ID:                  uuid.New(),
		Username:            username,
		PasswordHash:        hash,
		FullName:            strings.TrimSpace(p.FullName),
		Email:               strings.TrimSpace(p.Email),
		Role:                p.Role,
		IsActive:            true,
		ForcePasswordChange: true,
		CreatedAt:           time.Now().UTC(),
		CreatedBy:           &creatorID,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return validationErr("username", "username %s is taken", username)
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user created", "username", username, "role", p.Role, "by", actor.Username)
	return &user, nil
}

// Get returns one user with restrictions preloaded.
func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Preload("Restrictions").Where("id = ?", id).First(&user).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("user", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetByUsername returns one user by login name.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	var user models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Preload("Restrictions").Where("username = ?", username).First(&user).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("user", username)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// List returns all accounts sorted by username. When activeOnly is set,
// deactivated accounts are excluded.
func (s *UserService) List(ctx context.Context, actor authz.Actor, activeOnly bool) ([]models.User, error) {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return nil, err
	}

	var users []models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		query := db.Preload("Restrictions").Order("username ASC")
		if activeOnly {
			query = query.Where("is_active = ?", true)
		}
		return query.Find(&users).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// UpdateProfile changes full name and email.
func (s *UserService) UpdateProfile(ctx context.Context, actor authz.Actor, id uuid.UUID, fullName, email string) error {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return err
	}
	if strings.TrimSpace(fullName) == "" {
		return validationErr("full_name", "full name is required")
	}
	if email != "" && !strings.Contains(email, "@") {
		return validationErr("email", "email address is malformed")
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
			"full_name": strings.TrimSpace(fullName),
			"email":     strings.TrimSpace(email),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFoundErr("user", id)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// ChangeRole moves a user to a new role. Demoting the last active admin is
// rejected so the store is never left without one.
func (s *UserService) ChangeRole(ctx context.Context, actor authz.Actor, id uuid.UUID, role models.UserRole) error {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return err
	}
	if !role.Valid() {
		return validationErr("role", "unknown role %s", role)
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("user", id)
			}
			return err
		}
		if user.Role == models.RoleAdmin && role != models.RoleAdmin {
			count, err := s.otherActiveAdmins(tx, id)
			if err != nil {
				return err
			}
			if count == 0 {
				return validationErr("role", "cannot demote the last active admin")
			}
		}
		return tx.Model(&user).Update("role", role).Error
	})
	if err != nil {
		if IsValidation(err) || isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to change role: %w", err)
	}

	s.log.Info("role changed", "user_id", id, "role", role, "by", actor.Username)
	return nil
}

// SetActive deactivates or reactivates an account. Rejects self-deactivation
// and deactivating the last active admin.
func (s *UserService) SetActive(ctx context.Context, actor authz.Actor, id uuid.UUID, active bool) error {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return err
	}
	if !active && id == actor.UserID {
		return validationErr("user", "cannot deactivate your own account")
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("user", id)
			}
			return err
		}
		if !active && user.Role == models.RoleAdmin {
			count, err := s.otherActiveAdmins(tx, id)
			if err != nil {
				return err
			}
			if count == 0 {
				return validationErr("user", "cannot deactivate the last active admin")
			}
		}
		return tx.Model(&user).Update("is_active", active).Error
	})
	if err != nil {
		if IsValidation(err) || isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to change active flag: %w", err)
	}

	s.log.Info("user active flag changed", "user_id", id, "active", active, "by", actor.Username)
	return nil
}

// ResetPassword sets a temporary password and forces a change at next login.
func (s *UserService) ResetPassword(ctx context.Context, actor authz.Actor, id uuid.UUID, password string) error {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
			"password_hash":         hash,
			"force_password_change": true,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFoundErr("user", id)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.log.Info("password reset", "user_id", id, "by", actor.Username)
	return nil
}

// GetRestrictions returns a user's allow-list entries.
func (s *UserService) GetRestrictions(ctx context.Context, userID uuid.UUID) ([]models.UserRestriction, error) {
	var restrictions []models.UserRestriction
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).Find(&restrictions).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get restrictions: %w", err)
	}
	return restrictions, nil
}

// SetRestrictions replaces a user's allow-list with the given category codes
// and entity names. Only meaningful for restricted editors but stored for any
// role so an account switched to EDITOR_RESTRICTED keeps its list.
func (s *UserService) SetRestrictions(ctx context.Context, actor authz.Actor, userID uuid.UUID, categories, entities []string) error {
	if err := authz.Authorize(actor, authz.CapManageUsers); err != nil {
		return err
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return notFoundErr("user", userID)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.UserRestriction{}).Error; err != nil {
			return err
		}
		for _, code := range categories {
			code = strings.ToUpper(strings.TrimSpace(code))
			if code == "" {
				continue
			}
			entry := models.UserRestriction{
				ID:     uuid.New(),
				UserID: userID,
				Kind:   models.RestrictionCategory,
				Value:  code,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		for _, name := range entities {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			entry := models.UserRestriction{
				ID:     uuid.New(),
				UserID: userID,
				Kind:   models.RestrictionEntity,
				Value:  name,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to set restrictions: %w", err)
	}

	s.log.Info("restrictions replaced", "user_id", userID, "by", actor.Username)
	return nil
}

// CheckDocumentAccess reports whether the actor may edit the given document.
// Admins and full editors always may; restricted editors need the document's
// category or one of its applicable entities on their allow-list. An empty
// allow-list grants nothing.
func (s *UserService) CheckDocumentAccess(ctx context.Context, actor authz.Actor, doc *models.Document) (bool, error) {
	if !actor.IsRestrictedEditor() {
		return actor.HasCapability(authz.CapEditDocument), nil
	}

	restrictions, err := s.GetRestrictions(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return restrictedEditorAllowed(restrictions, doc), nil
}

func restrictedEditorAllowed(restrictions []models.UserRestriction, doc *models.Document) bool {
	entities := doc.ApplicableEntities()
	for _, r := range restrictions {
		switch r.Kind {
		case models.RestrictionCategory:
			if r.Value == doc.Category {
				return true
			}
		case models.RestrictionEntity:
			for _, e := range entities {
				if r.Value == e {
					return true
				}
			}
		}
	}
	return false
}

func (s *UserService) otherActiveAdmins(tx *gorm.DB, excludeID uuid.UUID) (int64, error) {
	var count int64
	err := tx.Model(&models.User{}).
		Where("role = ? AND is_active = ? AND id <> ?", models.RoleAdmin, true, excludeID).
		Count(&count).Error
	return count, err
}
