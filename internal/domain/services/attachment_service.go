package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/app/config"
	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/internal/infrastructure/storage"
	"github.com/policyhub/policyhub/pkg/logger"
)

// AttachmentService manages versioned file attachments. At most one
// attachment per document carries the current flag; adding a version demotes
// the previous one and deleting the current version promotes the most recent
// survivor.
type AttachmentService struct {
	db          *database.Connector
	files       *storage.FileStore
	history     *HistoryService
	users       *UserService
	maxFileSize int64
	log         *logger.Logger
}

func NewAttachmentService(db *database.Connector, files *storage.FileStore, history *HistoryService, users *UserService, maxFileSize int64, log *logger.Logger) *AttachmentService {
	return &AttachmentService{db: db, files: files, history: history, users: users, maxFileSize: maxFileSize, log: log}
}

// Add copies the source file into the shared attachment tree and records it
// as the document's current version. The previous current version is demoted
// in the same transaction.
func (s *AttachmentService) Add(ctx context.Context, actor authz.Actor, docID uuid.UUID, sourcePath, versionLabel string) (*models.Attachment, error) {
	if err := authz.Authorize(actor, authz.CapUploadAttachment); err != nil {
		return nil, err
	}

	versionLabel = strings.TrimSpace(versionLabel)
	if !versionPattern.MatchString(versionLabel) {
		return nil, validationErr("version_label", "version must be MAJOR.MINOR, e.g. 1.0")
	}

	filename := filepath.Base(sourcePath)
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType, ok := config.AllowedExtensions[ext]
	if !ok {
		return nil, validationErr("file", "file type %s is not allowed", ext)
	}

	size, err := storage.FileSize(sourcePath)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, validationErr("file", "file is empty")
	}
	if size > s.maxFileSize {
		return nil, validationErr("file", "file exceeds the %d MB limit", s.maxFileSize/(1024*1024))
	}

	var doc models.Document
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", docID).First(&doc).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("document", docID)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	if ok, err := s.allowedToEdit(ctx, actor, &doc); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UTC()
	relPath := storage.AttachmentRelPath(doc.DocRef, filename, versionLabel, now)
	written, err := s.files.CopyIn(sourcePath, relPath)
	if err != nil {
		return nil, err
	}

	attachment := models.Attachment{
		ID:           uuid.New(),
		DocID:        docID,
		Filename:     filename,
		FilePath:     relPath,
		FileSize:     written,
		MimeType:     mimeType,
		VersionLabel: versionLabel,
		IsCurrent:    true,
		UploadedAt:   now,
		UploadedBy:   actor.UserID,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		err := tx.Model(&models.Attachment{}).
			Where("doc_id = ? AND is_current = ?", docID, true).
			Update("is_current", false).Error
		if err != nil {
			return err
		}
		if err := tx.Create(&attachment).Error; err != nil {
			return err
		}
		return s.history.append(tx, actor, RecordParams{
			DocID:        docID,
			Action:       models.ActionAttachmentAdded,
			FieldChanged: "attachment",
			NewValue:     fmt.Sprintf("%s (v%s)", filename, versionLabel),
		})
	})
	if err != nil {
		// the copied file is unreachable without its row, remove it
		if removeErr := s.files.Remove(relPath); removeErr != nil {
			s.log.Warn("could not remove orphaned attachment file", "path", relPath, "error", removeErr)
		}
		return nil, fmt.Errorf("failed to record attachment: %w", err)
	}

	s.log.Info("attachment added", "doc_ref", doc.DocRef, "file", filename, "version", versionLabel, "by", actor.Username)
	return &attachment, nil
}

// Delete removes one attachment version. The file moves to the deleted-files
// recovery tree; when the current version is removed the most recently
// uploaded survivor becomes current.
func (s *AttachmentService) Delete(ctx context.Context, actor authz.Actor, attachmentID uuid.UUID) error {
	if err := authz.Authorize(actor, authz.CapDeleteAttachment); err != nil {
		return err
	}

	var attachment models.Attachment
	var doc models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		if err := db.Where("id = ?", attachmentID).First(&attachment).Error; err != nil {
			return err
		}
		return db.Where("id = ?", attachment.DocID).First(&doc).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return notFoundErr("attachment", attachmentID)
		}
		return fmt.Errorf("failed to load attachment: %w", err)
	}

	if ok, err := s.allowedToEdit(ctx, actor, &doc); err != nil {
		return err
	} else if !ok {
		return ErrPermissionDenied
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Attachment{}, "id = ?", attachmentID).Error; err != nil {
			return err
		}
		if attachment.IsCurrent {
			var successor models.Attachment
			err := tx.Where("doc_id = ?", attachment.DocID).
				Order("uploaded_at DESC").
				First(&successor).Error
			switch {
			case err == nil:
				if err := tx.Model(&successor).Update("is_current", true).Error; err != nil {
					return err
				}
			case isRecordNotFound(err):
				// no versions left
			default:
				return err
			}
		}
		return s.history.append(tx, actor, RecordParams{
			DocID:        attachment.DocID,
			Action:       models.ActionAttachmentRemoved,
			FieldChanged: "attachment",
			OldValue:     fmt.Sprintf("%s (v%s)", attachment.Filename, attachment.VersionLabel),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.files.MoveToDeleted(attachment.FilePath, doc.DocRef, attachment.Filename, now); err != nil {
		s.log.Warn("could not move file to recovery tree, removing instead",
			"doc_ref", doc.DocRef, "file", attachment.Filename, "error", err)
		if removeErr := s.files.Remove(attachment.FilePath); removeErr != nil {
			s.log.Warn("could not remove attachment file", "path", attachment.FilePath, "error", removeErr)
		}
	}

	s.log.Info("attachment removed", "doc_ref", doc.DocRef, "file", attachment.Filename, "by", actor.Username)
	return nil
}

// ListForDocument returns a document's attachments, newest upload first.
func (s *AttachmentService) ListForDocument(ctx context.Context, docID uuid.UUID) ([]models.Attachment, error) {
	var attachments []models.Attachment
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("doc_id = ?", docID).
			Order("uploaded_at DESC").
			Find(&attachments).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return attachments, nil
}

// GetCurrent returns the document's current attachment version, or
// ErrNotFound when the document has no attachments.
func (s *AttachmentService) GetCurrent(ctx context.Context, docID uuid.UUID) (*models.Attachment, error) {
	var attachment models.Attachment
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("doc_id = ? AND is_current = ?", docID, true).First(&attachment).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("current attachment for document", docID)
		}
		return nil, fmt.Errorf("failed to get current attachment: %w", err)
	}
	return &attachment, nil
}

// ResolvePath returns the absolute path of an attachment file for opening or
// copying out.
func (s *AttachmentService) ResolvePath(ctx context.Context, actor authz.Actor, attachmentID uuid.UUID) (string, error) {
	if err := authz.Authorize(actor, authz.CapDownloadAttachment); err != nil {
		return "", err
	}

	var attachment models.Attachment
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", attachmentID).First(&attachment).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return "", notFoundErr("attachment", attachmentID)
		}
		return "", fmt.Errorf("failed to load attachment: %w", err)
	}
	return s.files.AbsAttachmentPath(attachment.FilePath)
}

func (s *AttachmentService) allowedToEdit(ctx context.Context, actor authz.Actor, doc *models.Document) (bool, error) {
	if !actor.IsRestrictedEditor() {
		return true, nil
	}
	restrictions, err := s.users.GetRestrictions(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return restrictedEditorAllowed(restrictions, doc), nil
}
