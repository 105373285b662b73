package services

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

func TestBackupService_Create(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)
	doc := s.env.CreateTestDocument(t, admin.UserID, nil)
	_, err := s.attachments.Add(ctx, admin, doc.ID, s.env.SourceFile(t, "policy.pdf", "attachment bytes"), "1.0")
	require.NoError(t, err)

	record, err := s.backups.Create(ctx, admin, "", "weekly backup")
	require.NoError(t, err)
	assert.Equal(t, models.BackupManual, record.Kind)
	assert.Greater(t, record.SizeBytes, int64(0))
	assert.FileExists(t, record.BackupPath)

	manifest, err := s.backups.Validate(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, record.ID.String(), manifest.BackupID)
	assert.Equal(t, admin.Username, manifest.CreatedBy)
	assert.Equal(t, "weekly backup", manifest.Notes)

	records, err := s.backups.List(ctx, admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestBackupService_Create_NonAdminDenied(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	_, err := s.backups.Create(ctx, editor, "", "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBackupService_Validate_Corrupt(t *testing.T) {
	s := newTestServices(t)

	// not a zip at all
	garbage := filepath.Join(t.TempDir(), "garbage.zip")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip"), 0o644))
	_, err := s.backups.Validate(garbage)
	var corrupt *BackupCorruptionError
	require.ErrorAs(t, err, &corrupt)

	// a zip without a manifest
	empty := filepath.Join(t.TempDir(), "empty.zip")
	out, err := os.Create(empty)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("policyhub.db")
	require.NoError(t, err)
	_, err = w.Write([]byte("db bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	_, err = s.backups.Validate(empty)
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "manifest")

	// missing file
	_, err = s.backups.Validate(filepath.Join(t.TempDir(), "nope.zip"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestBackupService_RestoreRoundTrip(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	keep := s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-900"
	})
	attachment, err := s.attachments.Add(ctx, admin, keep.ID, s.env.SourceFile(t, "keep.pdf", "keep these bytes"), "1.0")
	require.NoError(t, err)
	historyBefore := s.env.CountRows(t, &models.HistoryEntry{})

	record, err := s.backups.Create(ctx, admin, "", "before changes")
	require.NoError(t, err)

	// mutate state after the backup
	require.NoError(t, s.docs.Delete(ctx, admin, keep.ID))
	s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-901"
	})

	require.NoError(t, s.backups.Restore(ctx, admin, record.BackupPath))

	// the register is back to its pre-mutation state
	restored, err := s.docs.GetByRef(ctx, "POL-AML-900")
	require.NoError(t, err)
	assert.Equal(t, keep.ID, restored.ID)
	_, err = s.docs.GetByRef(ctx, "POL-AML-901")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, historyBefore, s.env.CountRows(t, &models.HistoryEntry{}))

	// attachment bytes came back too
	path, err := s.attachments.ResolvePath(ctx, admin, attachment.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep these bytes", string(data))
}

func TestBackupService_Restore_RecordsSafetyBackup(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)
	s.env.CreateTestDocument(t, admin.UserID, nil)

	record, err := s.backups.Create(ctx, admin, "", "")
	require.NoError(t, err)

	require.NoError(t, s.backups.Restore(ctx, admin, record.BackupPath))

	// the safety archive exists on disk even though the store was swapped
	matches, err := filepath.Glob(filepath.Join(s.env.Root, "exports", "safety_backup_*.zip"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	manifest, err := s.backups.Validate(matches[0])
	require.NoError(t, err)
	assert.Contains(t, manifest.Notes, "safety backup")
}

func TestBackupService_Restore_RollbackOnFailure(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-GOV-500"
	})
	record, err := s.backups.Create(ctx, admin, "", "")
	require.NoError(t, err)

	// new state after the backup, which the failed restore must preserve
	s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-GOV-501"
	})

	injected := errors.New("disk went away")
	s.backups.failpoint = func() error { return injected }

	err = s.backups.Restore(ctx, admin, record.BackupPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)

	// both documents still present: the safety backup was reapplied
	s.backups.failpoint = nil
	_, err = s.docs.GetByRef(ctx, "POL-GOV-500")
	assert.NoError(t, err)
	_, err = s.docs.GetByRef(ctx, "POL-GOV-501")
	assert.NoError(t, err)

	// the safety backup record survives the rollback
	records, err := s.backups.List(ctx, admin)
	require.NoError(t, err)
	foundSafety := false
	for _, r := range records {
		if r.Kind == models.BackupSafety {
			foundSafety = true
		}
	}
	assert.True(t, foundSafety)
}

func TestBackupService_Restore_CorruptArchiveAborts(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)
	doc := s.env.CreateTestDocument(t, admin.UserID, nil)

	garbage := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(garbage, []byte("junk"), 0o644))

	err := s.backups.Restore(ctx, admin, garbage)
	var corrupt *BackupCorruptionError
	require.ErrorAs(t, err, &corrupt)

	// nothing was touched, no safety backup was taken
	_, err = s.docs.Get(ctx, doc.ID)
	assert.NoError(t, err)
	records, err := s.backups.List(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBackupService_DeleteRecord(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	record, err := s.backups.Create(ctx, admin, "", "")
	require.NoError(t, err)

	require.NoError(t, s.backups.DeleteRecord(ctx, admin, record.ID))

	records, err := s.backups.List(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, records)
	// the archive itself is untouched
	assert.FileExists(t, record.BackupPath)
}
