// Package undo keeps the single most recent reversible action.
package undo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// Kind identifies the action an entry reverses.
type Kind string

const (
	KindAddRow         Kind = "add_row"
	KindEditRow        Kind = "edit_row"
	KindDeleteRow      Kind = "delete_row"
	KindUploadDocument Kind = "upload_pdf"
	KindUploadImage    Kind = "upload_image"
	KindUploadBatch    Kind = "upload_batch"
	KindImport         Kind = "import_csv"
	KindUploadRemote   Kind = "upload_remote"
	KindDownloadRemote Kind = "download_remote"
	KindClearStore     Kind = "clear_store"
	KindResetStore     Kind = "reset_store"
)

var (
	// ErrNothingToUndo is returned by PopAndApply on an empty ledger.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNotInvertible is returned for actions that cannot be rolled back.
	ErrNotInvertible = errors.New("action cannot be undone")
)

// Entry is the payload needed to invert exactly one action.
type Entry struct {
	Kind        Kind              `json:"kind"`
	RowID       int64             `json:"row_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	RowIDs      []int64           `json:"row_ids,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	BackupPath  string            `json:"backup_path,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Inverter performs the inverse operations an entry dispatches to.
type Inverter interface {
	DeleteRow(ctx context.Context, id int64) error
	RestoreRow(ctx context.Context, id int64, fields map[string]string) error
	ReinsertRow(ctx context.Context, rec domain.ProductRecord) error
	DeleteRows(ctx context.Context, ids []int64) error
	DeleteBySource(ctx context.Context, source string) error
	RestoreBackup(ctx context.Context, backupPath string) error
}

// Ledger holds at most one entry. When created with a path the slot is
// persisted so it survives between process runs.
type Ledger struct {
	mu     sync.Mutex
	path   string
	entry  *Entry
	logger *observability.Logger
}

// NewMemory returns a ledger that is not persisted.
func NewMemory() *Ledger {
	return &Ledger{logger: observability.Nop()}
}

// Open loads the ledger persisted at path, or an empty one if none exists.
func Open(path string, logger *observability.Logger) (*Ledger, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	l := &Ledger{path: path, logger: logger.WithComponent("undo")}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, domain.IOError("failed to read undo ledger", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("discarding unreadable undo ledger")
		_ = os.Remove(path)
		return l, nil
	}
	l.entry = &e
	return l, nil
}

// Push replaces any existing entry.
func (l *Ledger) Push(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entry = &e
	l.logger.Debug().Str("kind", string(e.Kind)).Msg("undo entry recorded")
	return l.persist()
}

// Peek returns the current entry without removing it.
func (l *Ledger) Peek() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entry == nil {
		return Entry{}, false
	}
	return *l.entry, true
}

// Clear empties the ledger.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry = nil
	return l.persist()
}

// PopAndApply removes the entry and runs its inverse. The ledger is empty
// afterwards whether or not the inversion succeeded.
func (l *Ledger) PopAndApply(ctx context.Context, inv Inverter) (Entry, error) {
	l.mu.Lock()
	if l.entry == nil {
		l.mu.Unlock()
		return Entry{}, ErrNothingToUndo
	}
	e := *l.entry
	l.entry = nil
	perr := l.persist()
	l.mu.Unlock()

	if perr != nil {
		l.logger.Warn().Err(perr).Msg("failed to clear persisted undo entry")
	}

	if err := apply(ctx, e, inv); err != nil {
		l.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("undo failed")
		return e, err
	}

	l.logger.Info().Str("kind", string(e.Kind)).Msg("undo applied")
	return e, nil
}

func apply(ctx context.Context, e Entry, inv Inverter) error {
	switch e.Kind {
	case KindAddRow:
		return inv.DeleteRow(ctx, e.RowID)

	case KindEditRow:
		return inv.RestoreRow(ctx, e.RowID, e.Fields)

	case KindDeleteRow:
		rec := domain.RecordFromFields(e.Fields)
		rec.UniqueID = e.RowID
		return inv.ReinsertRow(ctx, rec)

	case KindUploadDocument, KindUploadImage, KindUploadBatch:
		if len(e.RowIDs) > 0 {
			return inv.DeleteRows(ctx, e.RowIDs)
		}
		// Entries written before row ids were recorded only name sources.
		for _, src := range e.Sources {
			if err := inv.DeleteBySource(ctx, src); err != nil {
				return err
			}
		}
		return nil

	case KindUploadRemote:
		return ErrNotInvertible

	case KindDownloadRemote, KindClearStore, KindResetStore, KindImport:
		if e.BackupPath == "" {
			return fmt.Errorf("undo %s: entry has no backup path", e.Kind)
		}
		return inv.RestoreBackup(ctx, e.BackupPath)

	default:
		return fmt.Errorf("undo: unknown action kind %q", e.Kind)
	}
}

// persist writes or removes the ledger file. Caller holds mu.
func (l *Ledger) persist() error {
	if l.path == "" {
		return nil
	}

	if l.entry == nil {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return domain.IOError("failed to clear undo ledger", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(l.entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode undo entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return domain.IOError("failed to create ledger directory", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.IOError("failed to write undo ledger", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return domain.IOError("failed to write undo ledger", err)
	}
	return nil
}
