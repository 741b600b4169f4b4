// Package view projects store records for display: filtering, date-aware
// sorting and expiry classification. It never writes.
package view

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spherical/sweetspot/internal/domain"
)

// ColumnAll matches a pattern against every column.
const ColumnAll = "All"

var columnAliases = map[string]string{
	"all":                 ColumnAll,
	"id":                  domain.ColUniqueID,
	"ean":                 domain.ColEAN,
	"description":         domain.ColDescription,
	"article description": domain.ColDescription,
	"expiry":              domain.ColExpiryDate,
	"source":              domain.ColSource,
}

// Row is one displayed record
type Row struct {
	Record domain.ProductRecord
	Status domain.ExpiryStatus
}

// Query selects and orders rows
type Query struct {
	Column  string
	Pattern string
	SortBy  string
	Desc    bool
	Now     time.Time
}

// ResolveColumn maps a user supplied column name to its canonical form.
func ResolveColumn(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ColumnAll, nil
	}
	if col, ok := columnAliases[n]; ok {
		return col, nil
	}
	if strings.EqualFold(n, domain.ColUniqueID) {
		return domain.ColUniqueID, nil
	}
	for _, col := range domain.BusinessColumns {
		if strings.EqualFold(n, col) {
			return col, nil
		}
	}
	return "", domain.ValidationError(fmt.Sprintf("unknown column: %s", name), nil)
}

// Apply filters and sorts records. Pattern is a case-insensitive regular
// expression; an empty pattern keeps every row. Without SortBy rows are
// ordered by expiry date, valid dates first.
func Apply(records []domain.ProductRecord, q Query) ([]Row, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}

	column, err := ResolveColumn(q.Column)
	if err != nil {
		return nil, err
	}

	var re *regexp.Regexp
	if q.Pattern != "" {
		re, err = regexp.Compile("(?i)" + q.Pattern)
		if err != nil {
			return nil, domain.ValidationError("invalid filter pattern", err)
		}
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if re != nil && !matches(rec, column, re) {
			continue
		}
		rows = append(rows, Row{Record: rec, Status: domain.ClassifyExpiry(rec.ExpiryDate, now)})
	}

	sortBy := domain.ColExpiryDate
	if q.SortBy != "" {
		sortBy, err = ResolveColumn(q.SortBy)
		if err != nil {
			return nil, err
		}
		if sortBy == ColumnAll {
			return nil, domain.ValidationError("cannot sort by All", nil)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Record, rows[j].Record
		if q.Desc {
			a, b = b, a
		}
		return less(a, b, sortBy)
	})
	return rows, nil
}

func matches(rec domain.ProductRecord, column string, re *regexp.Regexp) bool {
	if column != ColumnAll {
		return re.MatchString(rec.Get(column))
	}
	if re.MatchString(rec.Get(domain.ColUniqueID)) {
		return true
	}
	for _, v := range rec.Fields() {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// less orders by column; dates compare chronologically with unparseable
// dates after valid ones, ids numerically, everything else as text.
func less(a, b domain.ProductRecord, column string) bool {
	switch column {
	case domain.ColUniqueID:
		return a.UniqueID < b.UniqueID
	case domain.ColExpiryDate:
		da, errA := domain.ParseExpiry(a.ExpiryDate)
		db, errB := domain.ParseExpiry(b.ExpiryDate)
		switch {
		case errA == nil && errB == nil:
			return da.Before(db)
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return a.ExpiryDate < b.ExpiryDate
	default:
		return a.Get(column) < b.Get(column)
	}
}

// Counts tallies rows per expiry status
func Counts(rows []Row) map[domain.ExpiryStatus]int {
	out := make(map[domain.ExpiryStatus]int)
	for _, r := range rows {
		out[r.Status]++
	}
	return out
}
