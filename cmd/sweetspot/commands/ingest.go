package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/app"
	"github.com/spherical/sweetspot/internal/batch"
	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
)

var (
	ingestPolicy string
	ingestVision bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE|DIR...",
	Short: "Extract products from delivery-slip PDFs and product list photos",
	Long: `Extract products from PDF delivery slips (text) and PNG/JPEG photos of
product lists (vision). Several files are processed one after another;
directories are expanded to the supported files they contain.

Ctrl-C stops after the current page. Rows already stored stay stored and
can be removed with 'sweetspot undo'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPolicy, "policy", "", "on a failed file: abort (default) or skip")
	ingestCmd.Flags().BoolVar(&ingestVision, "scanned-pages", false, "send pages without a text layer to the vision model")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	switch ingestPolicy {
	case "":
	case config.PolicyAbort, config.PolicySkip:
		cfg.Batch.Policy = ingestPolicy
	default:
		return domain.ValidationError(fmt.Sprintf("invalid policy %q, use abort or skip", ingestPolicy), nil)
	}
	if ingestVision {
		cfg.Pipeline.ScannedPageVision = true
	}

	files, err := app.ExpandInputs(args)
	if err != nil {
		return err
	}

	ui.Section("Ingest")
	if len(files) > 1 {
		ui.Info("%d files queued (policy: %s)", len(files), cfg.Batch.Policy)
	}

	job, err := core.StartIngest(cmd.Context(), files)
	if err != nil {
		return err
	}

	r := &ingestRenderer{}
	jobErr := job.Drain(r.handle)
	r.close()

	if cmd.Context().Err() != nil {
		ui.Warning("Stopped. Rows stored before the interruption were kept.")
		return nil
	}
	if entry, ok := core.LastAction(); ok && len(entry.Sources) > 0 && jobErr == nil {
		ui.Info("Run 'sweetspot undo' to remove the rows of this run.")
	}
	return jobErr
}

// ingestRenderer turns the job's events into terminal output.
type ingestRenderer struct {
	bar *ui.ProgressBar
}

func (r *ingestRenderer) progress(desc string) *ui.ProgressBar {
	if r.bar == nil {
		r.bar = ui.NewProgressBar(100, desc)
	}
	return r.bar
}

func (r *ingestRenderer) close() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

func (r *ingestRenderer) println(fn func()) {
	if r.bar != nil {
		r.bar.Clear()
	}
	fn()
}

func (r *ingestRenderer) handle(e domain.StreamEvent) {
	switch e.Type {
	case domain.EventFileStarted:
		if fs, ok := e.Payload.(batch.FileStarted); ok {
			r.close()
			ui.Step("[%d/%d] %s", fs.Index, fs.Total, filepath.Base(fs.Path))
		}

	case domain.EventProgress:
		r.progress(e.Source).Set(int64(e.Progress))

	case domain.EventPageProcessing:
		if ui.Verbose() {
			r.progress(e.Source).Describe(fmt.Sprint(e.Payload))
		}

	case domain.EventError:
		r.println(func() { ui.Warning("%s page %d: %v", e.Source, e.PageNumber, e.Payload) })

	case domain.EventNotice:
		r.println(func() { ui.Info("%s: %v", e.Source, e.Payload) })

	case domain.EventStatus:
		if msg, ok := e.Payload.(string); ok {
			r.println(func() { ui.Info("%s", msg) })
		}

	case domain.EventComplete, domain.EventFailed, domain.EventCancelled, domain.EventFileFinished:
		if res, ok := e.Payload.(domain.Result); ok {
			r.close()
			printResult(res)
			return
		}
		if s, ok := e.Payload.(batch.Summary); ok {
			r.close()
			printSummary(e.Type, s)
		}

	case domain.EventBatchCompleted:
		if s, ok := e.Payload.(batch.Summary); ok {
			r.close()
			printSummary(e.Type, s)
		}
	}
}

func printResult(res domain.Result) {
	detail := fmt.Sprintf("%d rows stored", res.Inserted)
	if res.Rejected > 0 {
		detail += fmt.Sprintf(", %d rejected by validation", res.Rejected)
	}
	if res.FailedUnits > 0 {
		detail += fmt.Sprintf(", %d pages failed", res.FailedUnits)
	}
	detail += ", " + ui.FormatDuration(res.Duration)

	switch res.State {
	case domain.StateCompleted:
		if res.Notice != "" {
			ui.Warning("%s: %s", res.Source, res.Notice)
			return
		}
		ui.Success("%s: %s", res.Source, detail)
	case domain.StateCancelled:
		ui.Warning("%s: cancelled (%s)", res.Source, detail)
	default:
		reason := "failed"
		if len(res.Errors) > 0 {
			reason = res.Errors[len(res.Errors)-1].Error()
		}
		ui.Error("%s: %s", res.Source, reason)
	}
}

func printSummary(t domain.EventType, s batch.Summary) {
	ui.Newline()
	ui.Table([]string{"Files", "Rows stored", "Failed", "Skipped", "Not processed"}, [][]string{{
		fmt.Sprint(s.Files), fmt.Sprint(s.Inserted), fmt.Sprint(len(s.Failed)),
		fmt.Sprint(len(s.Skipped)), fmt.Sprint(len(s.Aborted)),
	}})

	switch t {
	case domain.EventFailed:
		names := make([]string, len(s.Aborted))
		for i, p := range s.Aborted {
			names[i] = filepath.Base(p)
		}
		if len(names) > 0 {
			ui.Warning("Batch aborted; not processed:\n%s", strings.TrimRight(ui.FormatList(names), "\n"))
		}
	case domain.EventCancelled:
		ui.Warning("Batch cancelled")
	}
}
