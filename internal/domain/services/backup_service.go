package services

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
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

const manifestFilename = "backup_info.json"

// BackupManifest is the self-describing header stored inside every archive.
type BackupManifest struct {
	BackupID    string    `json:"backup_id"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
	CreatedByID string    `json:"created_by_id"`
	AppVersion  string    `json:"app_version"`
	Notes       string    `json:"notes"`
}

// BackupService creates, validates and restores full-state archives: the
// SQLite store plus the attachment tree, zipped together with a manifest.
// Restore always takes a safety backup first and rolls back to it when the
// swap fails partway.
type BackupService struct {
	db    *database.Connector
	files *storage.FileStore
	log   *logger.Logger

	// failpoint, when set, runs inside the restore window after the archive
	// is applied. Tests inject an error here to exercise the rollback path.
	failpoint func() error
}

func NewBackupService(db *database.Connector, files *storage.FileStore, log *logger.Logger) *BackupService {
	return &BackupService{db: db, files: files, log: log}
}

// Create writes a full backup archive. destDir defaults to the shared
// exports directory. The record is written only after the archive closed
// cleanly, so a listed backup always exists on disk.
func (s *BackupService) Create(ctx context.Context, actor authz.Actor, destDir, notes string) (*models.BackupRecord, error) {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return nil, err
	}

	if destDir == "" {
		destDir = filepath.Join(s.files.Root(), storage.ExportsDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating backup directory: %v", ErrStorageUnavailable, err)
	}

	now := time.Now().UTC()
	manifest := BackupManifest{
		BackupID:    uuid.NewString(),
		CreatedAt:   now,
		CreatedBy:   actor.Username,
		CreatedByID: actor.UserID.String(),
		AppVersion:  config.AppVersion,
		Notes:       notes,
	}
	archivePath := filepath.Join(destDir, fmt.Sprintf("policyhub_backup_%s.zip", now.Format("20060102_150405")))

	size, err := s.writeArchive(ctx, archivePath, manifest)
	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	record := models.BackupRecord{
		ID:         uuid.MustParse(manifest.BackupID),
		BackupPath: archivePath,
		Kind:       models.BackupManual,
		SizeBytes:  size,
		CreatedAt:  now,
		CreatedBy:  actor.UserID,
		Notes:      notes,
	}
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	s.log.Info("backup created", "path", archivePath, "bytes", size, "by", actor.Username)
	return &record, nil
}

// Validate checks an archive's structure: readable zip, parseable manifest
// and a store file present. Structural problems come back as a
// BackupCorruptionError.
func (s *BackupService) Validate(archivePath string) (*BackupManifest, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, archivePath)
		}
		return nil, &BackupCorruptionError{Reason: fmt.Sprintf("not a readable zip archive: %v", err)}
	}
	defer reader.Close()

	var manifest *BackupManifest
	hasStore := false
	for _, file := range reader.File {
		switch file.Name {
		case manifestFilename:
			rc, err := file.Open()
			if err != nil {
				return nil, &BackupCorruptionError{Reason: fmt.Sprintf("cannot open manifest: %v", err)}
			}
			var m BackupManifest
			decodeErr := json.NewDecoder(rc).Decode(&m)
			rc.Close()
			if decodeErr != nil {
				return nil, &BackupCorruptionError{Reason: fmt.Sprintf("manifest is not valid JSON: %v", decodeErr)}
			}
			manifest = &m
		case storage.StoreFilename:
			hasStore = true
		}
	}

	if manifest == nil {
		return nil, &BackupCorruptionError{Reason: "manifest missing from archive"}
	}
	if manifest.BackupID == "" {
		return nil, &BackupCorruptionError{Reason: "manifest has no backup id"}
	}
	if !hasStore {
		return nil, &BackupCorruptionError{Reason: "store file missing from archive"}
	}
	return manifest, nil
}

// Restore replaces the store and attachment tree with an archive's contents.
// A safety backup of the current state is taken and recorded first; if the
// swap fails the safety backup is reapplied and the original error surfaced.
func (s *BackupService) Restore(ctx context.Context, actor authz.Actor, archivePath string) error {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return err
	}

	if _, err := s.Validate(archivePath); err != nil {
		return err
	}

	now := time.Now().UTC()
	safetyManifest := BackupManifest{
		BackupID:    uuid.NewString(),
		CreatedAt:   now,
		CreatedBy:   actor.Username,
		CreatedByID: actor.UserID.String(),
		AppVersion:  config.AppVersion,
		Notes:       fmt.Sprintf("Automatic safety backup before restoring %s", filepath.Base(archivePath)),
	}
	safetyPath := filepath.Join(s.files.Root(), storage.ExportsDir,
		fmt.Sprintf("safety_backup_%s.zip", now.Format("20060102_150405")))

	// recorded before the snapshot is taken so the snapshot contains its own
	// record and the entry survives a rollback
	safetyRecord := models.BackupRecord{
		ID:         uuid.MustParse(safetyManifest.BackupID),
		BackupPath: safetyPath,
		Kind:       models.BackupSafety,
		CreatedAt:  now,
		CreatedBy:  actor.UserID,
		Notes:      safetyManifest.Notes,
	}
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Create(&safetyRecord).Error
	})
	if err != nil {
		return fmt.Errorf("restore aborted, could not record safety backup: %w", err)
	}

	size, err := s.writeArchive(ctx, safetyPath, safetyManifest)
	if err != nil {
		os.Remove(safetyPath)
		return fmt.Errorf("restore aborted, safety backup failed: %w", err)
	}
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.BackupRecord{}).Where("id = ?", safetyRecord.ID).
			Update("size_bytes", size).Error
	})
	if err != nil {
		s.log.Warn("could not record safety backup size", "error", err)
	}

	swapErr := s.swap(archivePath)
	if swapErr == nil && s.failpoint != nil {
		swapErr = s.failpoint()
	}
	if swapErr != nil {
		s.log.Error("restore failed, rolling back to safety backup", "error", swapErr)
		if rbErr := s.swap(safetyPath); rbErr != nil {
			s.log.Error("rollback from safety backup also failed", "error", rbErr)
			return fmt.Errorf("restore failed and rollback failed (%v): %w", rbErr, swapErr)
		}
		return fmt.Errorf("restore failed, previous state recovered: %w", swapErr)
	}

	s.log.Info("restore complete", "archive", archivePath, "by", actor.Username)
	return nil
}

// List returns backup records, newest first.
func (s *BackupService) List(ctx context.Context, actor authz.Actor) ([]models.BackupRecord, error) {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return nil, err
	}

	var records []models.BackupRecord
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Order("created_at DESC").Find(&records).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a backup entry from the register. The archive file on
// disk is left alone.
func (s *BackupService) DeleteRecord(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.Authorize(actor, authz.CapChangeSettings); err != nil {
		return err
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		result := tx.Delete(&models.BackupRecord{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFoundErr("backup record", id)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

// writeArchive zips the manifest, the store file and the attachment tree
// into dest and returns the archive size.
func (s *BackupService) writeArchive(ctx context.Context, dest string, manifest BackupManifest) (int64, error) {
	// fold the WAL into the main file so the copy is self-contained
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to checkpoint store: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: creating archive: %v", ErrStorageUnavailable, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode manifest: %w", err)
	}
	w, err := zw.Create(manifestFilename)
	if err != nil {
		return 0, fmt.Errorf("failed to write manifest: %w", err)
	}
	if _, err := w.Write(manifestBytes); err != nil {
		return 0, fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := addFileToZip(zw, s.files.StorePath(), storage.StoreFilename); err != nil {
		return 0, err
	}

	attachmentsRoot := s.files.AttachmentsRoot()
	err = filepath.WalkDir(attachmentsRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == attachmentsRoot {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(attachmentsRoot, path)
		if err != nil {
			return err
		}
		return addFileToZip(zw, path, storage.AttachmentsDir+"/"+filepath.ToSlash(rel))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive attachments: %w", err)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

// swap replaces the live store file and attachment tree with an archive's
// contents. The store file is written beside the target and renamed so a
// crash never leaves a half-written database in place.
func (s *BackupService) swap(archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	storePath := s.files.StorePath()
	tmpStore := storePath + ".restore"
	newAttachments := s.files.AttachmentsRoot() + ".restore"
	oldAttachments := s.files.AttachmentsRoot() + ".old"
	os.RemoveAll(newAttachments)

	extracted := false
	for _, file := range reader.File {
		switch {
		case file.Name == storage.StoreFilename:
			if err := extractZipFile(file, tmpStore); err != nil {
				return err
			}
			extracted = true
		case strings.HasPrefix(file.Name, storage.AttachmentsDir+"/") && !file.FileInfo().IsDir():
			rel := strings.TrimPrefix(file.Name, storage.AttachmentsDir+"/")
			if !filepath.IsLocal(rel) {
				return &BackupCorruptionError{Reason: fmt.Sprintf("archive entry escapes the attachment tree: %s", file.Name)}
			}
			if err := extractZipFile(file, filepath.Join(newAttachments, filepath.FromSlash(rel))); err != nil {
				return err
			}
		}
	}
	if !extracted {
		return &BackupCorruptionError{Reason: "store file missing from archive"}
	}
	if _, err := os.Stat(newAttachments); os.IsNotExist(err) {
		// archive held no attachments, restore to an empty tree
		if err := os.MkdirAll(newAttachments, 0o755); err != nil {
			return fmt.Errorf("failed to stage attachment tree: %w", err)
		}
	}

	// stale WAL and SHM files must not outlive the replaced store
	os.Remove(storePath + "-wal")
	os.Remove(storePath + "-shm")
	if err := os.Rename(tmpStore, storePath); err != nil {
		return fmt.Errorf("failed to swap store file: %w", err)
	}

	os.RemoveAll(oldAttachments)
	if err := os.Rename(s.files.AttachmentsRoot(), oldAttachments); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to set aside attachment tree: %w", err)
	}
	if err := os.Rename(newAttachments, s.files.AttachmentsRoot()); err != nil {
		// put the old tree back so attachments are not lost
		os.Rename(oldAttachments, s.files.AttachmentsRoot())
		return fmt.Errorf("failed to swap attachment tree: %w", err)
	}
	os.RemoveAll(oldAttachments)
	return nil
}

func addFileToZip(zw *zip.Writer, sourcePath, name string) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sourcePath, err)
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}

func extractZipFile(file *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s from archive: %w", file.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return out.Close()
}
