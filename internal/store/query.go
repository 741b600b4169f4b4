package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spherical/sweetspot/internal/domain"
)

// isoExpiry converts the day.month.year Expiry Date column to YYYY-MM-DD in SQL.
var isoExpiry = fmt.Sprintf("date(substr(%[1]s, 7, 4) || '-' || substr(%[1]s, 4, 2) || '-' || substr(%[1]s, 1, 2))",
	quoteIdent(domain.ColExpiryDate))

// DeleteBySource removes rows ingested from source: rows tagged exactly
// with it and rows tagged with one of its pages ("source (Page n)").
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ? OR %s LIKE ? ESCAPE '\'`,
		quoteIdent(TableName), quoteIdent(domain.ColSource), quoteIdent(domain.ColSource))
	return s.exec(ctx, "failed to delete records by source", query, source, escapeLike(source)+" (Page %)")
}

// ExpiringBetween returns rows whose Expiry Date falls in [from, to] by
// calendar day, ordered by expiry. Rows with malformed dates are skipped.
func (s *Store) ExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.ProductRecord, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s BETWEEN ? AND ? ORDER BY %s, %s",
		quoteIdent(TableName), isoExpiry, isoExpiry, quoteIdent(domain.ColUniqueID))
	return s.query(ctx, query, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.withDB(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(TableName)))
		if err := row.Scan(&n); err != nil {
			return domain.StoreError("failed to count records", err)
		}
		return nil
	})
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
