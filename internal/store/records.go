package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/spherical/sweetspot/internal/domain"
)

// Insert stores one record and returns its UniqueID. With preserveID the
// record's own UniqueID is written, which is how undo re-inserts a deleted row.
func (s *Store) Insert(ctx context.Context, rec domain.ProductRecord, preserveID bool) (int64, error) {
	if preserveID && rec.UniqueID <= 0 {
		return 0, domain.StoreError("preserved insert requires a UniqueID", nil)
	}

	cols := recordColumns(rec)
	if err := s.ensureColumns(ctx, cols); err != nil {
		return 0, err
	}

	args := valuesFor(rec, cols)
	if preserveID {
		cols = append([]string{domain.ColUniqueID}, cols...)
		args = append([]any{rec.UniqueID}, args...)
	}

	var id int64
	err := s.withDB(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, insertSQL(cols), args...)
		if err != nil {
			return domain.StoreError("failed to insert record", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return domain.StoreError("failed to read inserted id", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug().Int64("unique_id", id).Bool("preserve_id", preserveID).Msg("record inserted")
	return id, nil
}

// BulkInsert stores all records in one transaction and returns their
// UniqueIDs in input order. If the table lacks a column the records carry,
// the column is added as TEXT and the insert is retried once.
func (s *Store) BulkInsert(ctx context.Context, recs []domain.ProductRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	cols := recordColumns(recs...)
	ids, err := s.insertAll(ctx, cols, recs)
	if err != nil && isMissingColumn(err) {
		s.logger.Warn().Err(err).Msg("bulk insert hit a missing column, extending schema and retrying")
		s.addColumnsLenient(ctx, cols)
		ids, err = s.insertAll(ctx, cols, recs)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("rows", len(ids)).Msg("bulk insert complete")
	return ids, nil
}

func (s *Store) insertAll(ctx context.Context, cols []string, recs []domain.ProductRecord) ([]int64, error) {
	ids := make([]int64, 0, len(recs))
	err := s.withDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return domain.StoreError("failed to begin transaction", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, insertSQL(cols))
		if err != nil {
			return domain.StoreError("failed to prepare bulk insert", err)
		}
		defer stmt.Close()

		for _, r := range recs {
			res, err := stmt.ExecContext(ctx, valuesFor(r, cols)...)
			if err != nil {
				return domain.StoreError("failed to insert record", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return domain.StoreError("failed to read inserted id", err)
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(); err != nil {
			return domain.StoreError("failed to commit bulk insert", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Update overwrites the business columns of the row with the given id and
// returns the number of rows affected. A missing id affects zero rows.
func (s *Store) Update(ctx context.Context, id int64, rec domain.ProductRecord) (int64, error) {
	cols := recordColumns(rec)
	if err := s.ensureColumns(ctx, cols); err != nil {
		return 0, err
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(TableName), strings.Join(sets, ", "), quoteIdent(domain.ColUniqueID))
	args := append(valuesFor(rec, cols), id)

	return s.exec(ctx, "failed to update record", query, args...)
}

// Delete removes the row with the given id. A missing id affects zero rows.
func (s *Store) Delete(ctx context.Context, id int64) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(TableName), quoteIdent(domain.ColUniqueID))
	return s.exec(ctx, "failed to delete record", query, id)
}

// DeleteIDs removes the rows with the given ids in one statement and
// returns how many existed.
func (s *Store) DeleteIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		quoteIdent(TableName), quoteIdent(domain.ColUniqueID), strings.Join(marks, ", "))
	return s.exec(ctx, "failed to delete records", query, args...)
}

// Clear removes every row but keeps the schema.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	return s.exec(ctx, "failed to clear store", fmt.Sprintf("DELETE FROM %s", quoteIdent(TableName)))
}

func (s *Store) exec(ctx context.Context, failMsg, query string, args ...any) (int64, error) {
	var affected int64
	err := s.withDB(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return domain.StoreError(failMsg, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return domain.StoreError(failMsg, err)
		}
		return nil
	})
	return affected, err
}

// Get returns the row with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (domain.ProductRecord, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(TableName), quoteIdent(domain.ColUniqueID))
	recs, err := s.query(ctx, query, id)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	if len(recs) == 0 {
		return domain.ProductRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// LoadAll returns every row in insertion order with NULLs as empty strings.
func (s *Store) LoadAll(ctx context.Context) ([]domain.ProductRecord, error) {
	return s.query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(TableName), quoteIdent(domain.ColUniqueID)))
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]domain.ProductRecord, error) {
	var out []domain.ProductRecord
	err := s.withDB(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return domain.StoreError("failed to query records", err)
		}
		defer rows.Close()

		out, err = scanRecords(rows)
		return err
	})
	return out, err
}

func scanRecords(rows *sql.Rows) ([]domain.ProductRecord, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, domain.StoreError("failed to read columns", err)
	}

	var out []domain.ProductRecord
	for rows.Next() {
		vals := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, domain.StoreError("failed to scan record", err)
		}

		var rec domain.ProductRecord
		for i, name := range names {
			if strings.EqualFold(name, domain.ColUniqueID) {
				rec.UniqueID, _ = strconv.ParseInt(vals[i].String, 10, 64)
				continue
			}
			rec.Set(name, vals[i].String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("failed to iterate records", err)
	}
	return out, nil
}

// ensureColumns adds any of cols the table does not have yet.
func (s *Store) ensureColumns(ctx context.Context, cols []string) error {
	info, err := s.tableInfo(ctx)
	if err != nil {
		return err
	}
	if len(info) == 0 {
		return domain.StoreError("products table does not exist, initialize the store first", nil)
	}
	return s.addMissingColumns(ctx, info, cols)
}

// addColumnsLenient adds every column in cols, ignoring failures such as
// duplicates.
func (s *Store) addColumnsLenient(ctx context.Context, cols []string) {
	_ = s.withDB(ctx, func(db *sql.DB) error {
		for _, c := range cols {
			if _, err := db.ExecContext(ctx, addColumnSQL(c)); err == nil {
				s.logger.Info().Str("column", c).Msg("added column during bulk insert")
			}
		}
		return nil
	})
}

func isMissingColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no column named")
}

func insertSQL(cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(TableName), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func valuesFor(rec domain.ProductRecord, cols []string) []any {
	fields := rec.Fields()
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = fields[c]
	}
	return args
}
