// Package storage manages the attachment file tree under the shared root:
// content-addressed-ish attachment paths, atomic-visibility copies and the
// _Deleted recovery area used by soft deletes.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStorageUnavailable indicates the attachments or backup root is not
	// configured or not writable. A configuration problem, not retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrFileNotFound indicates a source file was missing at add time.
	ErrFileNotFound = errors.New("file not found")
)

// Shared folder layout, relative to the shared root.
const (
	DataDir        = "data"
	AttachmentsDir = "attachments"
	ExportsDir     = "exports"
	DeletedDir     = "_Deleted"

	// StoreFilename is the SQLite store file inside DataDir.
	StoreFilename = "policyhub.db"
)

// maxFilenameLength keeps paths comfortably below filesystem limits even
// after the reference code and timestamp prefixes are attached.
const maxFilenameLength = 200

var reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// FileStore performs attachment file operations under the shared root.
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at the shared folder.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Root returns the shared folder path.
func (s *FileStore) Root() string {
	return s.root
}

// StorePath returns the absolute path of the SQLite store file.
func (s *FileStore) StorePath() string {
	return filepath.Join(s.root, DataDir, StoreFilename)
}

// AttachmentsRoot returns the absolute path of the attachments tree.
func (s *FileStore) AttachmentsRoot() string {
	return filepath.Join(s.root, AttachmentsDir)
}

// EnsureLayout creates the data, attachments and exports directories.
func (s *FileStore) EnsureLayout() error {
	if s.root == "" {
		return fmt.Errorf("%w: shared root not configured", ErrStorageUnavailable)
	}
	for _, dir := range []string{DataDir, AttachmentsDir, ExportsDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, dir, err)
		}
	}
	return nil
}

// SanitizeFilename replaces filesystem-reserved characters, trims leading
// and trailing whitespace and dots, and truncates to a safe length while
// preserving the extension.
func SanitizeFilename(filename string) string {
	sanitized := reservedChars.ReplaceAllString(filename, "_")
	sanitized = strings.Trim(sanitized, " .")
	if sanitized == "" {
		sanitized = "unnamed"
	}
	if len(sanitized) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		base := sanitized[:len(sanitized)-len(ext)]
		if cut := maxFilenameLength - len(ext); cut > 0 && cut < len(base) {
			base = base[:cut]
		}
		sanitized = base + ext
	}
	return sanitized
}

// AttachmentRelPath builds the storage-relative path for a new attachment:
// <ref>/<ref>_v<version>_<timestamp>_<sanitized-filename>. The timestamp
// keeps paths unique even when the same filename is re-uploaded.
func AttachmentRelPath(docRef, filename, versionLabel string, now time.Time) string {
	sanitized := SanitizeFilename(filename)
	stamped := fmt.Sprintf("%s_v%s_%s_%s", docRef, versionLabel, now.Format("20060102_150405"), sanitized)
	return filepath.Join(docRef, stamped)
}

// AbsAttachmentPath converts a storage-relative attachment path to an
// absolute one.
func (s *FileStore) AbsAttachmentPath(relPath string) (string, error) {
	if s.root == "" {
		return "", fmt.Errorf("%w: attachments folder not configured", ErrStorageUnavailable)
	}
	return filepath.Join(s.AttachmentsRoot(), relPath), nil
}

// CopyIn copies the source file to the storage-relative destination using a
// write-then-rename pattern so a concurrent reader never observes a partial
// file. Returns the number of bytes copied.
func (s *FileStore) CopyIn(sourcePath, relPath string) (int64, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, sourcePath)
		}
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	destPath, err := s.AbsAttachmentPath(relPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("%w: creating attachment directory: %v", ErrStorageUnavailable, err)
	}

	tmpPath := destPath + ".tmp-" + uuid.New().String()[:8]
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: creating attachment file: %v", ErrStorageUnavailable, err)
	}

	written, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write attachment: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize attachment: %w", err)
	}
	return written, nil
}

// MoveToDeleted moves an attachment file into the per-document recovery
// subtree under a timestamp-suffixed name. Two deletes within the same clock
// tick are possible under concurrent access, so the name is collision-checked
// with an incrementing counter rather than trusting timestamp granularity.
// Returns the destination path.
func (s *FileStore) MoveToDeleted(relPath, docRef, filename string, now time.Time) (string, error) {
	sourcePath, err := s.AbsAttachmentPath(relPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, sourcePath)
	}

	deletedDir := filepath.Join(s.root, DeletedDir, docRef)
	if err := os.MkdirAll(deletedDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating recovery directory: %v", ErrStorageUnavailable, err)
	}

	destPath := filepath.Join(deletedDir, deletedFilename(deletedDir, filename, now))
	if err := os.Rename(sourcePath, destPath); err != nil {
		return "", fmt.Errorf("failed to move file to recovery area: %w", err)
	}
	return destPath, nil
}

// deletedFilename builds <base>_deleted_<timestamp>[_<n>]<ext>, bumping the
// counter until the name is free.
func deletedFilename(dir, filename string, now time.Time) string {
	sanitized := SanitizeFilename(filename)
	ext := filepath.Ext(sanitized)
	base := strings.TrimSuffix(sanitized, ext)
	stamp := now.Format("20060102_150405")

	name := fmt.Sprintf("%s_deleted_%s%s", base, stamp, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_deleted_%s_%d%s", base, stamp, counter, ext)
	}
}

// Remove unlinks an attachment file. Used as the fallback when the
// soft-delete move fails.
func (s *FileStore) Remove(relPath string) error {
	absPath, err := s.AbsAttachmentPath(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// FileSize returns the size of a file in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return 0, err
	}
	return info.Size(), nil
}
