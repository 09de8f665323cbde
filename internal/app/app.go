package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"drivemirror/internal/config"
	"drivemirror/internal/database"
	"drivemirror/internal/drive"
	"drivemirror/internal/encryption"
	"drivemirror/internal/mirror"
)

// MirrorApp is the application layer between the CLI and the mirror
// Manager. It constructs all dependencies from config, journals mutating
// operations, and closes the store on Close.
type MirrorApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	drive     mirror.Drive
	encryptor mirror.Encryptor
	manager   *mirror.Manager
	journal   *journal
	logger    mirror.Logger
	logFile   *os.File
}

// Options override parts of the wiring, mainly for tests.
type Options struct {
	Drive  mirror.Drive
	Logger mirror.Logger
	Clock  mirror.Clock
}

// NewMirrorApp creates a fully wired MirrorApp from the given config.
// A mirror populated by an earlier successful InitDB starts out ready.
// The caller must call Close when done.
func NewMirrorApp(ctx context.Context, cfg *config.Config, opts Options) (*MirrorApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = mirror.RealClock{}
	}

	a := &MirrorApp{cfg: cfg, logger: opts.Logger}
	if a.logger == nil {
		opID := clock.Now().UTC().Format("20060102T150405Z")
		logger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.logger, a.logFile = logger, logFile
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, a.logger, clock)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		a.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	a.drive = opts.Drive
	if a.drive == nil {
		if a.drive, err = drive.NewDriveFromConfig(ctx, cfg.Drive, a.logger, nil); err != nil {
			a.Close()
			return nil, fmt.Errorf("creating drive client: %w", err)
		}
	}

	if a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a.manager = mirror.NewManager(db, a.drive, a.logger, clock)
	a.manager.SetPageSize(cfg.Drive.PageSize)
	a.journal = &journal{db: db, logger: a.logger}

	if err := a.restoreReadiness(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *MirrorApp) restoreReadiness(ctx context.Context) error {
	last, err := a.db.LastSuccessfulOperation(ctx, OpInitDB)
	if err != nil {
		return fmt.Errorf("reading operation journal: %w", err)
	}
	if last == nil {
		return nil
	}
	at := last.StartedAt
	if last.FinishedAt != nil {
		at = *last.FinishedAt
	}
	a.manager.Readiness().MarkReady(at)
	a.logger.Debug("mirror ready from earlier sync", "operation", last.ID, "at", at)
	return nil
}

// Manager exposes the wired mirror Manager.
func (a *MirrorApp) Manager() *mirror.Manager {
	return a.manager
}

// Sync rebuilds the mirror from the remote listing.
func (a *MirrorApp) Sync(ctx context.Context) error {
	return a.journal.run(ctx, OpInitDB, nil, func() error {
		return a.manager.InitDB(ctx)
	})
}

// Status describes the mirror's readiness and its last sync.
type Status struct {
	State    mirror.State      `json:"state" yaml:"state"`
	Since    time.Time         `json:"since" yaml:"since"`
	Error    string            `json:"error,omitempty" yaml:"error,omitempty"`
	LastSync *mirror.Operation `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	Database string            `json:"database" yaml:"database"`
}

func (a *MirrorApp) Status(ctx context.Context) (*Status, error) {
	rs := a.manager.Readiness().Status()
	st := &Status{State: rs.State, Since: rs.Since, Database: a.db.Path()}
	if rs.Err != nil {
		st.Error = rs.Err.Error()
	}
	last, err := a.db.LastSuccessfulOperation(ctx, OpInitDB)
	if err != nil {
		return nil, fmt.Errorf("reading operation journal: %w", err)
	}
	st.LastSync = last
	return st, nil
}

func (a *MirrorApp) GetFiles(ctx context.Context, ids []string) ([]*mirror.File, error) {
	return a.manager.GetFiles(ctx, ids)
}

func (a *MirrorApp) GetFileTree(ctx context.Context) ([]*mirror.TreeNode, error) {
	return a.manager.GetFileTree(ctx)
}

func (a *MirrorApp) GetPermissions(ctx context.Context, q mirror.PermissionQuery) ([]mirror.Permission, error) {
	return a.manager.GetPermissions(ctx, q)
}

// Share grants one permission on one file.
func (a *MirrorApp) Share(ctx context.Context, fileID string, role mirror.Role, granteeType mirror.GranteeType, grantee string) (*mirror.Permission, error) {
	var perm *mirror.Permission
	params := mirror.Request{FileID: fileID, Role: role, GranteeType: granteeType, EmailAddress: grantee}
	err := a.journal.run(ctx, OpAddPermission, params, func() error {
		var err error
		perm, err = a.manager.AddPermission(ctx, fileID, role, granteeType, grantee)
		return err
	})
	return perm, err
}

// Unshare revokes one permission of one file.
func (a *MirrorApp) Unshare(ctx context.Context, fileID, permissionID string) error {
	params := mirror.Request{FileID: fileID, PermissionID: permissionID}
	return a.journal.run(ctx, OpDeletePermission, params, func() error {
		return a.manager.DeletePermission(ctx, fileID, permissionID)
	})
}

// Grant grants role to emails on the subtrees rooted at fileIDs.
func (a *MirrorApp) Grant(ctx context.Context, fileIDs []string, role mirror.Role, granteeType mirror.GranteeType, emails []string) (*mirror.BulkResult, error) {
	var res *mirror.BulkResult
	params := mirror.Request{FileIDs: fileIDs, Role: role, GranteeType: granteeType, Emails: emails}
	err := a.journal.run(ctx, OpAddPermissions, params, func() error {
		var err error
		res, err = a.manager.AddPermissions(ctx, fileIDs, role, granteeType, emails)
		return err
	})
	return res, err
}

// Revoke revokes permissions on the subtrees rooted at fileIDs, limited to
// emails when given.
func (a *MirrorApp) Revoke(ctx context.Context, fileIDs, emails []string) (*mirror.BulkResult, error) {
	var res *mirror.BulkResult
	params := mirror.Request{FileIDs: fileIDs, Emails: emails}
	err := a.journal.run(ctx, OpDeletePermissions, params, func() error {
		var err error
		res, err = a.manager.DeletePermissions(ctx, fileIDs, emails)
		return err
	})
	return res, err
}

// GetHistory returns the most recent journal entries, newest first.
func (a *MirrorApp) GetHistory(ctx context.Context, limit int) ([]*mirror.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// ExportSnapshot writes an encrypted copy of the mirror to dest.
func (a *MirrorApp) ExportSnapshot(ctx context.Context, dest string) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("snapshot keys not configured: run keys init")
	}
	tmpDir, err := os.MkdirTemp("", "drivemirror-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plain := filepath.Join(tmpDir, database.FileName)
	if err := a.db.BackupTo(ctx, plain); err != nil {
		return err
	}
	if err := sealFile(a.encryptor, plain, dest); err != nil {
		return err
	}
	a.logger.Info("snapshot exported", "path", dest)
	return nil
}

// Close closes the store and the log file.
func (a *MirrorApp) Close() error {
	var err error
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}
	a.closeLog()
	return err
}

func (a *MirrorApp) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
