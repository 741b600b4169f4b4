package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
)

// WritePDF renders the report to dir/expiry_report_<date>.pdf and returns
// the file path.
func (r Report) WritePDF(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pdf: create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("expiry_report_%s.pdf", r.Generated.Format("20060102")))

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 20
	widths := []float64{contentW * 0.35, contentW * 0.15, contentW * 0.20, contentW * 0.10, contentW * 0.20}
	headers := []string{"Article Description", "Expiry Date", "EAN Serial No", "Ship QTY", "PDF Source"}

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 9, "Daily report: expiring products", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, "Generated "+r.Generated.Format("02.01.2006 15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	section := func(title string, lines []Line, empty string, highlight bool) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(contentW, 8, title, "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(74, 144, 226)
		pdf.SetTextColor(255, 255, 255)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 6, h, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetTextColor(0, 0, 0)

		pdf.SetFont("Helvetica", "", 8)
		if len(lines) == 0 {
			pdf.CellFormat(contentW, 6, empty, "1", 1, "L", false, 0, "")
		}
		if highlight {
			pdf.SetTextColor(200, 0, 0)
		}
		for _, l := range lines {
			cells := []string{l.Description, l.ExpiryDate, l.EAN, l.ShipQTY, l.Source}
			for i, c := range cells {
				pdf.CellFormat(widths[i], 6, tr(truncate(c, widths[i])), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(4)
	}

	section("Expiring today", r.Today, "No products expire today.", true)
	section(fmt.Sprintf("Expiring within %d days", r.WindowDays), r.Upcoming,
		fmt.Sprintf("No products expire within the next %d days.", r.WindowDays), false)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(contentW, 6, "Total Ship QTY: "+r.TotalShipQTY.String(), "", 1, "R", false, 0, "")

	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("pdf: write %s: %w", path, err)
	}
	return path, nil
}

// truncate shortens s to roughly fit a cell of width mm at 8pt.
func truncate(s string, width float64) string {
	limit := int(width / 1.6)
	r := []rune(s)
	if limit < 4 || len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
