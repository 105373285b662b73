package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/internal/infrastructure/storage"
	"github.com/policyhub/policyhub/pkg/logger"
)

// docRefCounter keeps generated register references unique within a test
// binary.
var docRefCounter atomic.Int64

// TestEnv wires a throwaway shared folder with a migrated store for tests.
// The store is a real file so concurrency pragmas behave as in production.
type TestEnv struct {
	Root  string
	DB    *database.Connector
	Files *storage.FileStore
	Log   *logger.Logger
}

// NewTestEnv creates a migrated, seeded store under a temp directory.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	root := t.TempDir()
	files := storage.NewFileStore(root)
	if err := files.EnsureLayout(); err != nil {
		t.Fatalf("Failed to create shared folder layout: %v", err)
	}

	db := database.NewConnector(files.StorePath(), 5*time.Second)
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize test store: %v", err)
	}

	return &TestEnv{
		Root:  root,
		DB:    db,
		Files: files,
		Log:   logger.NewForTesting(),
	}
}

// CreateTestUser inserts a user with the given role. The password is
// "password123" for authentication tests.
func (e *TestEnv) CreateTestUser(t *testing.T, role models.UserRole) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash test password: %v", err)
	}

	user := &models.User{
		ID:                  uuid.New(),
		Username:            fmt.Sprintf("user-%s", uuid.New().String()[:8]),
		PasswordHash:        string(hash),
		FullName:            "Test User",
		Email:               fmt.Sprintf("test-%s@example.com", uuid.New().String()[:8]),
		Role:                role,
		IsActive:            true,
		ForcePasswordChange: false,
		CreatedAt:           time.Now().UTC(),
	}

	err = e.DB.WithConn(context.Background(), func(db *gorm.DB) error {
		return db.Create(user).Error
	})
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// Actor inserts a user with the given role and returns its actor.
func (e *TestEnv) Actor(t *testing.T, role models.UserRole) authz.Actor {
	t.Helper()
	return authz.NewActor(e.CreateTestUser(t, role))
}

// CreateTestDocument inserts a document owned by the given user. Fields not
// supplied by the caller get sensible register defaults.
func (e *TestEnv) CreateTestDocument(t *testing.T, createdBy uuid.UUID, overrides func(*models.Document)) *models.Document {
	t.Helper()

	now := time.Now().UTC()
	doc := &models.Document{
		ID:              uuid.New(),
		DocType:         models.DocTypePolicy,
		DocRef:          fmt.Sprintf("POL-AML-%03d", docRefCounter.Add(1)),
		Title:           "Test Policy",
		Category:        "AML",
		Owner:           "Compliance Officer",
		Status:          models.DocStatusActive,
		Version:         "1.0",
		EffectiveDate:   now,
		LastReviewDate:  now,
		NextReviewDate:  now.AddDate(0, 0, 365),
		ReviewFrequency: models.FrequencyAnnual,
		CreatedAt:       now,
		CreatedBy:       createdBy,
		UpdatedAt:       now,
		UpdatedBy:       createdBy,
	}
	if overrides != nil {
		overrides(doc)
	}

	err := e.DB.WithConn(context.Background(), func(db *gorm.DB) error {
		return db.Create(doc).Error
	})
	if err != nil {
		t.Fatalf("Failed to create test document: %v", err)
	}
	return doc
}

// SourceFile writes content to a file outside the shared root and returns
// its path, for attachment upload tests.
func (e *TestEnv) SourceFile(t *testing.T, name, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write source file: %v", err)
	}
	return path
}

// CountRows returns the number of rows for a model.
func (e *TestEnv) CountRows(t *testing.T, model interface{}) int64 {
	t.Helper()

	var count int64
	err := e.DB.WithConn(context.Background(), func(db *gorm.DB) error {
		return db.Model(model).Count(&count).Error
	})
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}
