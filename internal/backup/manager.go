// Package backup creates and restores timestamped copies of the store file.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mholt/archiver/v3"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// Backup name prefixes.
const (
	PrefixDefault     = "products_backup"
	PrefixBeforeClear = "database_backup_before_clear"
)

const timestampLayout = "20060102_150405"

// Manager copies the store file into a backups directory and back.
type Manager struct {
	storePath string
	dir       string
	logger    *observability.Logger
	now       func() time.Time
}

// NewManager creates a manager for storePath writing backups into dir.
func NewManager(storePath, dir string, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Manager{
		storePath: storePath,
		dir:       dir,
		logger:    logger.WithComponent("backup"),
		now:       time.Now,
	}
}

// Dir returns the backups directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create copies the store file to <dir>/<prefix>_<YYYYMMDD_HHMMSS>.db and
// returns the backup path.
func (m *Manager) Create(prefix string) (string, error) {
	if prefix == "" {
		prefix = PrefixDefault
	}

	if _, err := os.Stat(m.storePath); err != nil {
		return "", domain.IOError(fmt.Sprintf("store file not found: %s", m.storePath), err)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", domain.IOError("failed to create backup directory", err)
	}

	path := m.uniquePath(prefix)
	if err := copyFile(m.storePath, path); err != nil {
		os.Remove(path)
		return "", domain.IOError("failed to write backup", err)
	}

	m.logger.Info().Str("backup", path).Msg("backup created")
	return path, nil
}

// uniquePath avoids overwriting a backup taken within the same second.
func (m *Manager) uniquePath(prefix string) string {
	base := fmt.Sprintf("%s_%s", prefix, m.now().Format(timestampLayout))
	path := filepath.Join(m.dir, base+".db")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(m.dir, fmt.Sprintf("%s_%d.db", base, i))
	}
}

// Restore copies backupPath over the live store file. A missing backup is
// logged and ignored.
func (m *Manager) Restore(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		m.logger.Error().Str("backup", backupPath).Err(err).Msg("backup file not found, restore skipped")
		return nil
	}

	tmp := m.storePath + ".restore"
	if err := copyFile(backupPath, tmp); err != nil {
		os.Remove(tmp)
		return domain.IOError("failed to stage restore", err)
	}
	if err := os.Rename(tmp, m.storePath); err != nil {
		os.Remove(tmp)
		return domain.IOError("failed to restore backup", err)
	}

	m.logger.Info().Str("backup", backupPath).Msg("store restored from backup")
	return nil
}

// PerformCritical backs up the store, runs op and, if op fails, restores
// the backup before returning op's error.
func (m *Manager) PerformCritical(ctx context.Context, op func(ctx context.Context) error) (string, error) {
	path, err := m.Create(PrefixDefault)
	if err != nil {
		return "", err
	}

	if err := op(ctx); err != nil {
		m.logger.Warn().Err(err).Str("backup", path).Msg("critical operation failed, restoring backup")
		if rerr := m.Restore(path); rerr != nil {
			return path, fmt.Errorf("%w (restore also failed: %v)", err, rerr)
		}
		return path, err
	}

	return path, nil
}

// Info describes one backup file.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// List returns the backups in the directory, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.IOError("failed to list backups", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(m.dir, e.Name()), Size: fi.Size(), ModTime: fi.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Path > out[j].Path
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// Archive bundles every backup into dest. The format follows dest's
// extension (.zip, .tar.gz, ...).
func (m *Manager) Archive(dest string) (int, error) {
	backups, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(backups) == 0 {
		return 0, domain.IOError("no backups to archive", nil)
	}

	files := make([]string, len(backups))
	for i, b := range backups {
		files[i] = b.Path
	}
	if err := archiver.Archive(files, dest); err != nil {
		return 0, domain.IOError("failed to archive backups", err)
	}

	m.logger.Info().Str("archive", dest).Int("files", len(files)).Msg("backups archived")
	return len(files), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
