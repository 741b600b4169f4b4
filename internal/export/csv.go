// Package export reads and writes the products table as CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/spherical/sweetspot/internal/domain"
)

// row is the CSV shape of a record. All fields are text so blank cells decode.
type row struct {
	UniqueID                string `csv:"UniqueID"`
	ProductID               string `csv:"ProductID"`
	SKU                     string `csv:"SKU"`
	ArticleDescriptionBatch string `csv:"Article Description Batch"`
	ExpiryDate              string `csv:"Expiry Date"`
	EANSerialNo             string `csv:"EAN Serial No"`
	Remark                  string `csv:"Remark"`
	OrderQTY                string `csv:"Order QTY"`
	ShipQTY                 string `csv:"Ship QTY"`
	UOM                     string `csv:"UOM"`
	PDFSource               string `csv:"PDF Source"`
}

func toRow(r domain.ProductRecord) row {
	return row{
		UniqueID:                r.Get(domain.ColUniqueID),
		ProductID:               r.ProductID,
		SKU:                     r.SKU,
		ArticleDescriptionBatch: r.ArticleDescriptionBatch,
		ExpiryDate:              r.ExpiryDate,
		EANSerialNo:             r.EANSerialNo,
		Remark:                  r.Remark,
		OrderQTY:                r.OrderQTY,
		ShipQTY:                 r.ShipQTY,
		UOM:                     r.UOM,
		PDFSource:               r.PDFSource,
	}
}

func (r row) record() domain.ProductRecord {
	id, _ := strconv.ParseInt(strings.TrimSpace(r.UniqueID), 10, 64)
	return domain.ProductRecord{
		UniqueID:                id,
		ProductID:               strings.TrimSpace(r.ProductID),
		SKU:                     strings.TrimSpace(r.SKU),
		ArticleDescriptionBatch: strings.TrimSpace(r.ArticleDescriptionBatch),
		ExpiryDate:              strings.TrimSpace(r.ExpiryDate),
		EANSerialNo:             strings.TrimSpace(r.EANSerialNo),
		Remark:                  strings.TrimSpace(r.Remark),
		OrderQTY:                strings.TrimSpace(r.OrderQTY),
		ShipQTY:                 strings.TrimSpace(r.ShipQTY),
		UOM:                     strings.TrimSpace(r.UOM),
		PDFSource:               strings.TrimSpace(r.PDFSource),
	}
}

// Write encodes records with a header row. Extra columns are not exported.
func Write(w io.Writer, records []domain.ProductRecord) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if len(records) == 0 {
		if err := enc.EncodeHeader(row{}); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	for _, r := range records {
		if err := enc.Encode(toRow(r)); err != nil {
			return fmt.Errorf("failed to encode CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// Read decodes records from CSV with a header row. Unknown columns are
// ignored; a missing description column is rejected.
func Read(r io.Reader) ([]domain.ProductRecord, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ValidationError("CSV file is empty", err)
		}
		return nil, domain.ValidationError("failed to read CSV header", err)
	}

	if !hasColumn(dec.Header(), domain.ColDescription) {
		return nil, domain.ValidationError(fmt.Sprintf("CSV is missing the %q column", domain.ColDescription), nil)
	}

	var rows []row
	if err := dec.Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.ValidationError("failed to decode CSV", err)
	}

	out := make([]domain.ProductRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func hasColumn(header []string, col string) bool {
	for _, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), col) {
			return true
		}
	}
	return false
}
