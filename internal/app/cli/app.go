package cli

import (
	"context"
	"fmt"

	"github.com/policyhub/policyhub/internal/app/config"
	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/domain/services"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/storage"
	"github.com/policyhub/policyhub/pkg/logger"
)

// app bundles the wired services for one command invocation.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.Connector
	files *storage.FileStore

	auth        *services.AuthService
	users       *services.UserService
	docs        *services.DocumentService
	attachments *services.AttachmentService
	links       *services.LinkService
	history     *services.HistoryService
	settings    *services.SettingsService
	categories  *services.CategoryService
	entities    *services.EntityService
	backups     *services.BackupService
}

// newApp loads configuration and wires every service against the shared
// folder. It does not touch the store; commands that need an initialized
// store check for it themselves.
func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewWithLevel(logger.ParseLevel(cfg.LogLevel))
	if !opts.Verbose {
		log = logger.NewForTesting()
	}

	files := storage.NewFileStore(cfg.Shared.Root)
	db := database.NewConnector(files.StorePath(), cfg.Shared.BusyTimeout)

	history := services.NewHistoryService(db, log)
	settings := services.NewSettingsService(db, log)
	users := services.NewUserService(db, log)

	return &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		files:       files,
		auth:        services.NewAuthService(db, log),
		users:       users,
		docs:        services.NewDocumentService(db, files, history, users, settings, log),
		attachments: services.NewAttachmentService(db, files, history, users, cfg.Limits.MaxFileSize, log),
		links:       services.NewLinkService(db, history, log),
		history:     history,
		settings:    settings,
		categories:  services.NewCategoryService(db, log),
		entities:    services.NewEntityService(db, log),
		backups:     services.NewBackupService(db, files, log),
	}, nil
}

// requireStore fails fast when the shared store has not been initialized.
func (a *app) requireStore() error {
	if !a.db.Exists() {
		return fmt.Errorf("store not found at %s, run 'policyhub init' first", a.db.Path())
	}
	return nil
}

// authenticate resolves the acting user from the global credential flags.
func (a *app) authenticate(ctx context.Context, opts *RootOptions) (authz.Actor, error) {
	if opts.Username == "" || opts.Password == "" {
		return authz.Actor{}, fmt.Errorf("credentials required: pass --user and --password or set %s and %s",
			envUsername, envPassword)
	}
	var actor authz.Actor
	err := a.retryStore(ctx, func(ctx context.Context) error {
		var err error
		actor, err = a.auth.Authenticate(ctx, opts.Username, opts.Password)
		return err
	})
	return actor, err
}
