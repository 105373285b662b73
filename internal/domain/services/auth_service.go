package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

const minPasswordLength = 8

// ErrInvalidCredentials covers unknown usernames, wrong passwords and
// deactivated accounts alike so login failures do not leak which it was.
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService verifies credentials and bootstraps the first administrator.
type AuthService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewAuthService(db *database.Connector, log *logger.Logger) *AuthService {
	return &AuthService{db: db, log: log}
}

// Authenticate checks a username and password and returns an actor for the
// session. Deactivated accounts fail with the same error as bad credentials.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (authz.Actor, error) {
	username = strings.TrimSpace(strings.ToLower(username))

	var user models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("username = ?", username).First(&user).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return authz.Actor{}, ErrInvalidCredentials
		}
		return authz.Actor{}, fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.IsActive {
		s.log.Warn("login attempt for deactivated account", "username", username)
		return authz.Actor{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return authz.Actor{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.User{}).Where("id = ?", user.ID).
			Update("last_login_at", now).Error
	})
	if err != nil {
		// login still succeeds; the stamp is best effort
		s.log.Warn("failed to stamp last login", "username", username, "error", err)
	}

	s.log.Info("user authenticated", "username", username, "role", user.Role)
	return authz.NewActor(&user), nil
}

// MustChangePassword reports whether the user has to set a new password
// before doing anything else.
func (s *AuthService) MustChangePassword(ctx context.Context, userID uuid.UUID) (bool, error) {
	var user models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Select("force_password_change").Where("id = ?", userID).First(&user).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return false, notFoundErr("user", userID)
		}
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return user.ForcePasswordChange, nil
}

// ChangePassword lets a user replace their own password after proving the
// current one. Clears the force-change flag.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}

	var user models.User
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", userID).First(&user).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return notFoundErr("user", userID)
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"password_hash":         hash,
			"force_password_change": false,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	s.log.Info("password changed", "username", user.Username)
	return nil
}

// HasAnyUsers reports whether the store holds at least one user account.
func (s *AuthService) HasAnyUsers(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.User{}).Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}
	return count > 0, nil
}

// CreateFirstAdmin bootstraps an empty store with the initial administrator.
// Refuses to run once any user exists.
func (s *AuthService) CreateFirstAdmin(ctx context.Context, username, fullName, password string) (*models.User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fullName) == "" {
		return nil, validationErr("full_name", "full name is required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		ID:                  uuid.New(),
		Username:            username,
		PasswordHash:        hash,
		FullName:            strings.TrimSpace(fullName),
		Role:                models.RoleAdmin,
		IsActive:            true,
		ForcePasswordChange: false,
		CreatedAt:           time.Now().UTC(),
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return validationErr("username", "store already has users")
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create first admin: %w", err)
	}

	s.log.Info("first admin created", "username", username)
	return &user, nil
}

// HashPassword derives a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return validationErr("password", "password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return validationErr("username", "username must be 3-50 characters")
	}
	for _, r := range username {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			return validationErr("username", "username may contain lowercase letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}
