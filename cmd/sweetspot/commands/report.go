package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/app"
	"github.com/spherical/sweetspot/internal/report"
)

var (
	reportSend       bool
	reportPDFDir     string
	reportDownload   bool
	reportRecipients []string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show or mail the products expiring soon",
	Long: `List products expiring today and within the configured window
(report.window_days, 14 by default). With --send the report is mailed as
HTML to each recipient; with --pdf a PDF copy is written and attached.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportSend, "send", false, "mail the report to the recipients")
	reportCmd.Flags().StringVar(&reportPDFDir, "pdf", "", "write a PDF copy into this directory")
	reportCmd.Flags().BoolVar(&reportDownload, "download-first", false, "refresh the table from Dropbox before reporting")
	reportCmd.Flags().StringSliceVar(&reportRecipients, "to", nil, "recipients (default: report.recipients / EMAIL_RECIPIENT)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	out, err := core.Report(cmd.Context(), app.ReportOptions{
		DownloadFirst: reportDownload || cfg.Report.DownloadFirst,
		Send:          reportSend,
		PDFDir:        reportPDFDir,
		Recipients:    reportRecipients,
	})

	// The report is shown even when mailing fails.
	if out.Report.Generated.IsZero() {
		return err
	}
	printReport(out.Report)

	if out.PDFPath != "" {
		ui.Success("PDF written to %s", out.PDFPath)
	}
	if reportSend && out.Sent > 0 {
		ui.Success("Report sent to %d recipient(s)", out.Sent)
	}
	return err
}

func printReport(r report.Report) {
	headers := []string{"Description", "Expiry", "EAN", "Ship QTY", "Source"}
	rows := func(lines []report.Line) [][]string {
		out := make([][]string, len(lines))
		for i, l := range lines {
			out[i] = []string{l.Description, l.ExpiryDate, l.EAN, l.ShipQTY, l.Source}
		}
		return out
	}

	ui.Section("Expiring today")
	if len(r.Today) == 0 {
		ui.Info("No products expire today.")
	} else {
		ui.Table(headers, rows(r.Today))
	}

	ui.Section(fmt.Sprintf("Expiring within %d days", r.WindowDays))
	if len(r.Upcoming) == 0 {
		ui.Info("No products expire within the next %d days.", r.WindowDays)
	} else {
		ui.Table(headers, rows(r.Upcoming))
	}

	ui.Newline()
	ui.KeyValue("Total Ship QTY", r.TotalShipQTY.String())
}
