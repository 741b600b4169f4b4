// Package store owns the on-disk products table.
//
// Every operation opens its own connection and closes it before returning,
// so a Store value holds no open handle and Close is a no-op. Writers that
// can overlap must serialize through a Guard.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// TableName is the products table.
const TableName = "products"

const legacyTableName = "products_old"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// RebuildHook runs before a destructive schema rebuild, typically a backup.
type RebuildHook func(ctx context.Context) error

// Store is the SQLite-backed record store.
type Store struct {
	path          string
	busyTimeout   time.Duration
	logger        *observability.Logger
	beforeRebuild RebuildHook
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent("store") }
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// WithRebuildHook registers a hook run before the legacy schema rebuild.
func WithRebuildHook(h RebuildHook) Option {
	return func(s *Store) { s.beforeRebuild = h }
}

// New creates a store for the database file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		busyTimeout: 5 * time.Second,
		logger:      observability.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases held connections. Each call manages its own connection,
// so there is nothing to release.
func (s *Store) Close() error {
	return nil
}

// withDB opens a dedicated connection, runs fn and closes the connection.
func (s *Store) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.StoreError("failed to create store directory", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", s.path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return domain.StoreError("failed to open store", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return domain.StoreError("failed to connect to store", err)
	}

	return fn(db)
}

// Initialize creates the products table if missing, rebuilds legacy tables
// lacking the UniqueID primary key, and adds any missing business columns.
func (s *Store) Initialize(ctx context.Context) error {
	cols, err := s.tableInfo(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(cols) == 0:
		s.logger.Info().Str("path", s.path).Msg("creating products table")
		return s.withDB(ctx, func(db *sql.DB) error {
			if _, err := db.ExecContext(ctx, createTableSQL(TableName)); err != nil {
				return domain.StoreError("failed to create products table", err)
			}
			return nil
		})

	case !hasUniqueIDKey(cols):
		if s.beforeRebuild != nil {
			if err := s.beforeRebuild(ctx); err != nil {
				return fmt.Errorf("backup before schema rebuild: %w", err)
			}
		}
		return s.rebuild(ctx, cols)

	default:
		return s.addMissingColumns(ctx, cols, domain.BusinessColumns)
	}
}

type columnInfo struct {
	Name string
	PK   int
}

func (s *Store) tableInfo(ctx context.Context) ([]columnInfo, error) {
	var cols []columnInfo
	err := s.withDB(ctx, func(db *sql.DB) error {
		var err error
		cols, err = readTableInfo(ctx, db, TableName)
		return err
	})
	return cols, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readTableInfo(ctx context.Context, q queryer, table string) ([]columnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, domain.StoreError("failed to read table info", err)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, domain.StoreError("failed to scan table info", err)
		}
		cols = append(cols, columnInfo{Name: name, PK: pk})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("failed to read table info", err)
	}
	return cols, nil
}

func hasUniqueIDKey(cols []columnInfo) bool {
	for _, c := range cols {
		if strings.EqualFold(c.Name, domain.ColUniqueID) && c.PK == 1 {
			return true
		}
	}
	return false
}

// rebuild renames the legacy table, recreates the canonical schema, copies
// every column that maps 1:1 (a bare id column becomes ProductID) and drops
// the legacy table, in one transaction.
func (s *Store) rebuild(ctx context.Context, cols []columnInfo) error {
	mapping := legacyMapping(cols)
	s.logger.Warn().Int("mapped_columns", len(mapping)).Msg("rebuilding products table without UniqueID key")

	return s.withDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return domain.StoreError("failed to begin transaction", err)
		}
		defer tx.Rollback()

		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(TableName), quoteIdent(legacyTableName)),
			createTableSQL(TableName),
		}
		if len(mapping) > 0 {
			targets := make([]string, 0, len(mapping))
			sources := make([]string, 0, len(mapping))
			for _, m := range mapping {
				targets = append(targets, quoteIdent(m.target))
				sources = append(sources, quoteIdent(m.source))
			}
			stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
				quoteIdent(TableName), strings.Join(targets, ", "), strings.Join(sources, ", "), quoteIdent(legacyTableName)))
		}
		stmts = append(stmts, fmt.Sprintf("DROP TABLE %s", quoteIdent(legacyTableName)))

		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return domain.StoreError("schema rebuild failed", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return domain.StoreError("failed to commit schema rebuild", err)
		}
		return nil
	})
}

type columnMap struct {
	source string
	target string
}

func legacyMapping(cols []columnInfo) []columnMap {
	byLower := make(map[string]string, len(cols))
	for _, c := range cols {
		byLower[strings.ToLower(c.Name)] = c.Name
	}

	var out []columnMap
	for _, target := range domain.BusinessColumns {
		if src, ok := byLower[strings.ToLower(target)]; ok {
			out = append(out, columnMap{source: src, target: target})
			continue
		}
		if target == domain.ColProductID {
			if src, ok := byLower["id"]; ok {
				out = append(out, columnMap{source: src, target: target})
			}
		}
	}
	return out
}

func (s *Store) addMissingColumns(ctx context.Context, cols []columnInfo, want []string) error {
	missing := missingColumns(cols, want)
	if len(missing) == 0 {
		return nil
	}

	return s.withDB(ctx, func(db *sql.DB) error {
		for _, name := range missing {
			if _, err := db.ExecContext(ctx, addColumnSQL(name)); err != nil {
				return domain.StoreError(fmt.Sprintf("failed to add column %q", name), err)
			}
			s.logger.Info().Str("column", name).Msg("added missing column")
		}
		return nil
	})
}

func missingColumns(cols []columnInfo, want []string) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c.Name)] = true
	}
	var missing []string
	for _, name := range want {
		if !have[strings.ToLower(name)] {
			missing = append(missing, name)
			have[strings.ToLower(name)] = true
		}
	}
	return missing
}

// Columns returns the current column names in table order.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	cols, err := s.tableInfo(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

func createTableSQL(table string) string {
	defs := []string{quoteIdent(domain.ColUniqueID) + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, c := range domain.BusinessColumns {
		defs = append(defs, quoteIdent(c)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(table), strings.Join(defs, ",\n\t"))
}

func addColumnSQL(name string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(TableName), quoteIdent(name))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// recordColumns lists the business columns followed by the record's extra
// columns in a stable order.
func recordColumns(recs ...domain.ProductRecord) []string {
	cols := append([]string(nil), domain.BusinessColumns...)
	seen := make(map[string]bool)
	var extra []string
	for _, r := range recs {
		for k := range r.Extra {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}
