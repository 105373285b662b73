package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/storage"
)

// The engine error taxonomy. Low-level failures from the connector and the
// file store are re-exported here so callers only need to match against one
// package.
var (
	// ErrPermissionDenied: authorization gate or row-level scope check
	// failed. Surfaced verbatim, never retried.
	ErrPermissionDenied = authz.ErrPermissionDenied

	// ErrNotFound: a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable: busy timeout exceeded or store file inaccessible.
	// Retryable with backoff.
	ErrStoreUnavailable = database.ErrStoreUnavailable

	// ErrStorageUnavailable: attachments or backup root not configured or
	// unwritable. A configuration problem.
	ErrStorageUnavailable = storage.ErrStorageUnavailable

	// ErrFileNotFound: a source file was missing at add time.
	ErrFileNotFound = storage.ErrFileNotFound
)

// ValidationError reports malformed input with a field-specific message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BackupCorruptionError reports a structurally invalid backup archive.
// A restore is aborted before any destructive step when raised.
type BackupCorruptionError struct {
	Reason string
}

func (e *BackupCorruptionError) Error() string {
	return fmt.Sprintf("backup corrupt: %s", e.Reason)
}

func notFoundErr(kind string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
