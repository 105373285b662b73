package services

import (
	"testing"

	"github.com/policyhub/policyhub/internal/testutil"
)

const testMaxFileSize = 1024 * 1024

type testServices struct {
	env         *testutil.TestEnv
	history     *HistoryService
	settings    *SettingsService
	categories  *CategoryService
	entities    *EntityService
	auth        *AuthService
	users       *UserService
	docs        *DocumentService
	attachments *AttachmentService
	links       *LinkService
	backups     *BackupService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	env := testutil.NewTestEnv(t)
	history := NewHistoryService(env.DB, env.Log)
	settings := NewSettingsService(env.DB, env.Log)
	users := NewUserService(env.DB, env.Log)

	return &testServices{
		env:         env,
		history:     history,
		settings:    settings,
		categories:  NewCategoryService(env.DB, env.Log),
		entities:    NewEntityService(env.DB, env.Log),
		auth:        NewAuthService(env.DB, env.Log),
		users:       users,
		docs:        NewDocumentService(env.DB, env.Files, history, users, settings, env.Log),
		attachments: NewAttachmentService(env.DB, env.Files, history, users, testMaxFileSize, env.Log),
		links:       NewLinkService(env.DB, history, env.Log),
		backups:     NewBackupService(env.DB, env.Files, env.Log),
	}
}
