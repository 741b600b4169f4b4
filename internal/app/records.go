package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spherical/sweetspot/internal/backup"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/store"
	"github.com/spherical/sweetspot/internal/undo"
	"github.com/spherical/sweetspot/internal/view"
)

// List loads every row and applies the filter and sort of q.
func (a *App) List(ctx context.Context, q view.Query) ([]view.Row, error) {
	recs, err := a.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if q.Now.IsZero() {
		q.Now = a.now()
	}
	return view.Apply(recs, q)
}

// Get returns one row.
func (a *App) Get(ctx context.Context, id int64) (domain.ProductRecord, error) {
	rec, err := a.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return rec, domain.ValidationError(fmt.Sprintf("no record with UniqueID %d", id), err)
	}
	return rec, err
}

// Add inserts a record behind a backup and records an add_row undo entry.
func (a *App) Add(ctx context.Context, rec domain.ProductRecord) (int64, error) {
	unlock, err := a.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := requireDescription(rec); err != nil {
		return 0, err
	}
	rec.UniqueID = 0
	var id int64
	_, err = a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		var ierr error
		id, ierr = a.store.Insert(ctx, rec, false)
		return ierr
	})
	if err != nil {
		return 0, err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindAddRow,
		RowID:       id,
		Description: fmt.Sprintf("add row %d", id),
	})
	a.logger.Info().Int64("unique_id", id).Msg("record added")
	return id, nil
}

// Edit overwrites the given columns of a row. The previous values are kept
// in the undo entry.
func (a *App) Edit(ctx context.Context, id int64, changes map[string]string) (domain.ProductRecord, error) {
	unlock, err := a.lock(ctx)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	defer unlock()

	prev, err := a.Get(ctx, id)
	if err != nil {
		return domain.ProductRecord{}, err
	}

	next := domain.RecordFromFields(prev.Fields())
	for col, v := range changes {
		if col == domain.ColUniqueID {
			return domain.ProductRecord{}, domain.ValidationError("UniqueID cannot be edited", nil)
		}
		next.Set(col, v)
	}
	next.UniqueID = id
	if err := requireDescription(next); err != nil {
		return domain.ProductRecord{}, err
	}

	_, err = a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		_, uerr := a.store.Update(ctx, id, next)
		return uerr
	})
	if err != nil {
		return domain.ProductRecord{}, err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindEditRow,
		RowID:       id,
		Fields:      prev.Fields(),
		Description: fmt.Sprintf("edit row %d", id),
	})
	a.logger.Info().Int64("unique_id", id).Int("columns", len(changes)).Msg("record edited")
	return next, nil
}

// requireDescription rejects rows without an Article Description Batch.
// Manual rows are otherwise stored as entered.
func requireDescription(rec domain.ProductRecord) error {
	if strings.TrimSpace(rec.ArticleDescriptionBatch) == "" {
		return domain.ValidationError(domain.ColDescription+" must not be empty", nil)
	}
	return nil
}

// Delete removes a row and keeps its full contents for undo.
func (a *App) Delete(ctx context.Context, id int64) error {
	unlock, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	prev, err := a.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		_, derr := a.store.Delete(ctx, id)
		return derr
	})
	if err != nil {
		return err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindDeleteRow,
		RowID:       id,
		Fields:      prev.Fields(),
		Description: fmt.Sprintf("delete row %d", id),
	})
	a.logger.Info().Int64("unique_id", id).Msg("record deleted")
	return nil
}

// Clear empties the table after a dedicated pre-clear backup.
func (a *App) Clear(ctx context.Context) (int64, error) {
	unlock, err := a.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	path, err := a.backups.Create(backup.PrefixBeforeClear)
	if err != nil {
		return 0, err
	}

	n, err := a.store.Clear(ctx)
	if err != nil {
		if rerr := a.backups.Restore(path); rerr != nil {
			a.logger.Error().Err(rerr).Str("backup", path).Msg("restore after failed clear")
		}
		return 0, err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindClearStore,
		BackupPath:  path,
		Description: fmt.Sprintf("clear %d rows", n),
	})
	a.logger.Info().Int64("rows", n).Str("backup", path).Msg("store cleared")
	return n, nil
}

// Reset backs up and deletes the store file, then creates a fresh table.
func (a *App) Reset(ctx context.Context) (string, error) {
	unlock, err := a.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	path, err := a.backups.Create(backup.PrefixDefault)
	if err != nil {
		return "", err
	}

	if err := os.Remove(a.store.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", domain.IOError("failed to remove store file", err)
	}
	if err := a.store.Initialize(ctx); err != nil {
		if rerr := a.backups.Restore(path); rerr != nil {
			a.logger.Error().Err(rerr).Str("backup", path).Msg("restore after failed reset")
		}
		return "", err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindResetStore,
		BackupPath:  path,
		Description: "reset store",
	})
	a.logger.Info().Str("backup", path).Msg("store reset")
	return path, nil
}

// Undo reverses the most recent recorded action. The slot is empty
// afterwards even when the inversion fails.
func (a *App) Undo(ctx context.Context) (undo.Entry, error) {
	unlock, err := a.lock(ctx)
	if err != nil {
		return undo.Entry{}, err
	}
	defer unlock()

	return a.ledger.PopAndApply(ctx, inverter{a})
}

// inverter applies undo entries directly to the store. The caller holds
// the guard.
type inverter struct {
	a *App
}

func (i inverter) DeleteRow(ctx context.Context, id int64) error {
	_, err := i.a.store.Delete(ctx, id)
	return err
}

func (i inverter) RestoreRow(ctx context.Context, id int64, fields map[string]string) error {
	rec := domain.RecordFromFields(fields)
	rec.UniqueID = id
	_, err := i.a.store.Update(ctx, id, rec)
	return err
}

func (i inverter) ReinsertRow(ctx context.Context, rec domain.ProductRecord) error {
	_, err := i.a.store.Insert(ctx, rec, true)
	return err
}

func (i inverter) DeleteRows(ctx context.Context, ids []int64) error {
	n, err := i.a.store.DeleteIDs(ctx, ids)
	if err == nil {
		i.a.logger.Debug().Int("ids", len(ids)).Int64("rows", n).Msg("ingested rows removed")
	}
	return err
}

func (i inverter) DeleteBySource(ctx context.Context, source string) error {
	n, err := i.a.store.DeleteBySource(ctx, source)
	if err == nil {
		i.a.logger.Debug().Str("source", source).Int64("rows", n).Msg("rows removed by source")
	}
	return err
}

func (i inverter) RestoreBackup(ctx context.Context, path string) error {
	if err := i.a.backups.Restore(path); err != nil {
		return err
	}
	return i.a.store.Initialize(ctx)
}
