package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spherical/sweetspot/internal/backup"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/remote"
	"github.com/spherical/sweetspot/internal/undo"
	"github.com/spherical/sweetspot/internal/worker"
)

// RemoteStatus describes the remote store connection
type RemoteStatus struct {
	Authorized bool
	Account    string
	RemotePath string
}

func (a *App) requireRemote() error {
	if a.remote.Authorized() {
		return nil
	}
	return domain.SyncError("Dropbox is not authorized, run 'sweetspot sync authorize' first", remote.ErrNotAuthorized)
}

// Upload sends the store file to the remote path. A backup is taken first
// but the upload itself cannot be undone.
func (a *App) Upload(ctx context.Context) error {
	if err := a.requireRemote(); err != nil {
		return err
	}

	unlock, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	path, err := a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		return a.remote.Upload(ctx, a.store.Path(), a.cfg.Remote.RemotePath)
	})
	if err != nil {
		return err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindUploadRemote,
		BackupPath:  path,
		Description: "upload to " + a.cfg.Remote.RemotePath,
	})
	a.logger.Info().Str("remote_path", a.cfg.Remote.RemotePath).Msg("store uploaded")
	return nil
}

// Download replaces the local store with the remote copy and re-runs schema
// initialization. The pre-download backup is restored on any failure and
// recorded for undo on success.
func (a *App) Download(ctx context.Context) error {
	if err := a.requireRemote(); err != nil {
		return err
	}

	unlock, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	path, err := a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		if err := a.remote.Download(ctx, a.cfg.Remote.RemotePath, a.store.Path()); err != nil {
			return err
		}
		return a.store.Initialize(ctx)
	})
	if err != nil {
		return err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindDownloadRemote,
		BackupPath:  path,
		Description: "download from " + a.cfg.Remote.RemotePath,
	})
	a.logger.Info().Str("remote_path", a.cfg.Remote.RemotePath).Msg("store downloaded")
	return nil
}

// StartUpload runs Upload on a background job
func (a *App) StartUpload(ctx context.Context) *worker.Job {
	return a.startSync(ctx, "upload", "Uploading database", a.Upload)
}

// StartDownload runs Download on a background job
func (a *App) StartDownload(ctx context.Context) *worker.Job {
	return a.startSync(ctx, "download", "Downloading database", a.Download)
}

func (a *App) startSync(ctx context.Context, name, status string, op func(context.Context) error) *worker.Job {
	return worker.Start(ctx, name, a.logger, func(ctx context.Context, emit func(domain.StreamEvent)) error {
		emit(domain.StreamEvent{Type: domain.EventStatus, Source: a.cfg.Remote.RemotePath, Payload: status})
		return op(ctx)
	})
}

// AuthorizeURL returns the page where the user approves offline access.
func (a *App) AuthorizeURL() (string, error) {
	creds, err := a.credentials()
	if err != nil {
		return "", err
	}
	if creds.AppKey == "" || creds.AppSecret == "" {
		return "", domain.ConfigError("Dropbox app key and secret are required (set APP_KEY/APP_SECRET or run 'sweetspot sync authorize --app-key --app-secret')", nil)
	}
	return a.remote.AuthorizeURL(), nil
}

// SaveRemoteApp stores the Dropbox app key and secret encrypted.
func (a *App) SaveRemoteApp(key, secret string) error {
	key, secret = strings.TrimSpace(key), strings.TrimSpace(secret)
	if key == "" || secret == "" {
		return domain.ValidationError("app key and secret must not be empty", nil)
	}

	stored, err := a.secrets.Load()
	if err != nil {
		return err
	}
	stored.AppKey, stored.AppSecret = key, secret
	if err := a.secrets.Save(stored); err != nil {
		return err
	}
	return a.reloadRemote()
}

// CompleteAuthorization exchanges the code shown after approval for a
// refresh token and saves it encrypted.
func (a *App) CompleteAuthorization(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ValidationError("authorization code must not be empty", nil)
	}

	token, err := a.remote.Exchange(ctx, code)
	if err != nil {
		return err
	}

	creds, err := a.credentials()
	if err != nil {
		return err
	}
	creds.RefreshToken = token
	if err := a.secrets.Save(creds); err != nil {
		return err
	}

	a.logger.Info().Msg("remote authorization saved")
	return a.reloadRemote()
}

func (a *App) reloadRemote() error {
	creds, err := a.credentials()
	if err != nil {
		return err
	}
	a.remote = a.newRemote(creds)
	return nil
}

// RemoteStatus reports whether the remote store is reachable with the
// saved credentials.
func (a *App) RemoteStatus(ctx context.Context) (RemoteStatus, error) {
	st := RemoteStatus{RemotePath: a.cfg.Remote.RemotePath}
	if !a.remote.Authorized() {
		return st, nil
	}

	name, err := a.remote.Account(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrNotAuthorized) {
			return st, nil
		}
		return st, err
	}
	st.Authorized = true
	st.Account = name
	return st, nil
}

// ListBackups returns the backups, newest first
func (a *App) ListBackups() ([]backup.Info, error) {
	return a.backups.List()
}

// ArchiveBackups bundles every backup into dest.
func (a *App) ArchiveBackups(dest string) (int, error) {
	if strings.TrimSpace(dest) == "" {
		return 0, domain.ValidationError("archive destination is required", nil)
	}
	n, err := a.backups.Archive(dest)
	if err != nil {
		return 0, fmt.Errorf("archive backups: %w", err)
	}
	return n, nil
}
