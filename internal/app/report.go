package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/export"
	"github.com/spherical/sweetspot/internal/report"
	"github.com/spherical/sweetspot/internal/undo"
)

// ReportOptions selects what the report run does besides building it
type ReportOptions struct {
	DownloadFirst bool
	Send          bool
	PDFDir        string
	Recipients    []string
}

// ReportOutcome is the result of a report run
type ReportOutcome struct {
	Report  report.Report
	PDFPath string
	Sent    int
}

// Report builds the expiry report for the configured window. It optionally
// refreshes the store from the remote copy, renders a PDF and mails the
// HTML body to each recipient.
func (a *App) Report(ctx context.Context, opts ReportOptions) (ReportOutcome, error) {
	var out ReportOutcome

	if opts.DownloadFirst {
		if err := a.Download(ctx); err != nil {
			return out, fmt.Errorf("refresh before report: %w", err)
		}
	}

	r, err := report.Generate(ctx, a.store, a.now(), a.cfg.Report.WindowDays)
	if err != nil {
		return out, err
	}
	out.Report = r
	a.logger.Info().Int("today", len(r.Today)).Int("upcoming", len(r.Upcoming)).Msg("report generated")

	if opts.PDFDir != "" {
		path, err := r.WritePDF(opts.PDFDir)
		if err != nil {
			return out, err
		}
		out.PDFPath = path
	}

	if !opts.Send {
		return out, nil
	}

	body, err := r.HTML()
	if err != nil {
		return out, err
	}

	recipients := opts.Recipients
	if len(recipients) == 0 {
		recipients = a.cfg.Report.Recipients
	}
	var attachments []string
	if out.PDFPath != "" {
		attachments = append(attachments, out.PDFPath)
	}

	out.Sent, err = a.mailer.Send(a.cfg.Report.Subject, body, recipients, attachments...)
	return out, err
}

// Export writes every row as CSV.
func (a *App) Export(ctx context.Context, w io.Writer) (int, error) {
	recs, err := a.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := export.Write(w, recs); err != nil {
		return 0, domain.IOError("failed to export CSV", err)
	}
	return len(recs), nil
}

// Import appends rows read from CSV. Incoming UniqueIDs are dropped so the
// store assigns fresh ones.
func (a *App) Import(ctx context.Context, r io.Reader) (int, error) {
	recs, err := export.Read(r)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	for i := range recs {
		recs[i].UniqueID = 0
	}

	unlock, err := a.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int
	path, err := a.backups.PerformCritical(ctx, func(ctx context.Context) error {
		ids, ierr := a.store.BulkInsert(ctx, recs)
		n = len(ids)
		return ierr
	})
	if err != nil {
		return 0, err
	}

	a.remember(undo.Entry{
		Kind:        undo.KindImport,
		BackupPath:  path,
		Description: fmt.Sprintf("import %d rows", n),
	})
	a.logger.Info().Int("rows", n).Msg("csv imported")
	return n, nil
}
