// Package report builds the daily expiry report and delivers it by mail.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spherical/sweetspot/internal/domain"
)

// Placeholders for empty values.
const (
	NoDescription = "No description"
	NoDate        = "No date"
	NoValue       = "None"
)

// Line is one product row of the report
type Line struct {
	Description string
	ExpiryDate  string
	EAN         string
	ShipQTY     string
	Source      string
}

// Report lists products expiring today and within the window
type Report struct {
	Generated  time.Time
	WindowDays int
	Today      []Line
	Upcoming   []Line
	// TotalShipQTY sums numeric Ship QTY values over both sections
	TotalShipQTY decimal.Decimal
}

// Empty reports whether nothing expires within the window
func (r Report) Empty() bool {
	return len(r.Today) == 0 && len(r.Upcoming) == 0
}

// Count returns the number of listed products
func (r Report) Count() int {
	return len(r.Today) + len(r.Upcoming)
}

// Source supplies records whose expiry date lies in [from, to]
type Source interface {
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.ProductRecord, error)
}

// Generate queries src for products expiring between today and today plus
// windowDays and builds the report.
func Generate(ctx context.Context, src Source, now time.Time, windowDays int) (Report, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	recs, err := src.ExpiringBetween(ctx, today, today.AddDate(0, 0, windowDays))
	if err != nil {
		return Report{}, err
	}
	return Build(recs, now, windowDays), nil
}

// Build splits records into those expiring today and the rest, keeping order.
func Build(recs []domain.ProductRecord, now time.Time, windowDays int) Report {
	r := Report{Generated: now, WindowDays: windowDays, TotalShipQTY: decimal.Zero}
	today := now.Format(domain.ExpiryDateLayout)

	for _, rec := range recs {
		line := Line{
			Description: orDefault(rec.ArticleDescriptionBatch, NoDescription),
			ExpiryDate:  orDefault(rec.ExpiryDate, NoDate),
			EAN:         orDefault(rec.EANSerialNo, NoValue),
			ShipQTY:     orDefault(rec.ShipQTY, NoValue),
			Source:      orDefault(rec.PDFSource, NoValue),
		}
		if qty, err := decimal.NewFromString(strings.TrimSpace(rec.ShipQTY)); err == nil {
			r.TotalShipQTY = r.TotalShipQTY.Add(qty)
		}
		if strings.TrimSpace(rec.ExpiryDate) == today {
			r.Today = append(r.Today, line)
		} else {
			r.Upcoming = append(r.Upcoming, line)
		}
	}
	return r
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
