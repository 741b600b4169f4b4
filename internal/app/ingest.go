package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/sweetspot/internal/batch"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/extract"
	"github.com/spherical/sweetspot/internal/pdf"
	"github.com/spherical/sweetspot/internal/store"
	"github.com/spherical/sweetspot/internal/undo"
	"github.com/spherical/sweetspot/internal/worker"
)

// newPipeline builds a pipeline with its own page renderer so temp files
// never outlive one file.
func (a *App) newPipeline() *extract.Pipeline {
	return extract.NewPipeline(a.decomposer, a.extractor,
		store.GuardedSink{Store: a.store, Guard: a.guard},
		extract.Options{
			Renderer:          a.newRenderer(),
			ScannedPageVision: a.cfg.Pipeline.ScannedPageVision,
			Logger:            a.logger,
		})
}

// StartIngest processes files on a background job. A single file runs the
// pipeline directly; several files go through the batch coordinator. Rows
// persisted by the run are recorded for undo by their source.
func (a *App) StartIngest(ctx context.Context, files []string) (*worker.Job, error) {
	if len(files) == 0 {
		return nil, domain.ValidationError("no input files given", nil)
	}
	if err := a.requireInference(); err != nil {
		return nil, err
	}

	if len(files) == 1 {
		return worker.Start(ctx, "ingest", a.logger, func(ctx context.Context, emit func(domain.StreamEvent)) error {
			return a.ingestOne(ctx, files[0], emit)
		}), nil
	}

	return worker.Start(ctx, "batch", a.logger, func(ctx context.Context, emit func(domain.StreamEvent)) error {
		return a.ingestBatch(ctx, files, emit)
	}), nil
}

func (a *App) ingestOne(ctx context.Context, path string, emit func(domain.StreamEvent)) error {
	kind := pdf.DetectKind(path)
	if kind == domain.KindUnsupported {
		return domain.ValidationError(fmt.Sprintf("unsupported file type: %s", filepath.Base(path)), nil)
	}

	res := a.newPipeline().Run(ctx, path, kind, extract.Emitter(emit))
	if res.Inserted > 0 {
		k := undo.KindUploadDocument
		if kind == domain.KindImage {
			k = undo.KindUploadImage
		}
		a.remember(undo.Entry{
			Kind:        k,
			RowIDs:      res.InsertedIDs,
			Sources:     []string{res.Source},
			Description: fmt.Sprintf("ingest %s (%d rows)", res.Source, res.Inserted),
		})
	}

	switch res.State {
	case domain.StateFailed:
		return resultError(res)
	case domain.StateCancelled:
		return context.Canceled
	}
	return nil
}

func (a *App) ingestBatch(ctx context.Context, files []string, emit func(domain.StreamEvent)) error {
	coord := batch.NewCoordinator(func() batch.Runner { return a.newPipeline() }, batch.Options{
		Policy:    a.cfg.Batch.Policy,
		SkipDelay: a.cfg.Batch.SkipDelay,
		NextDelay: a.cfg.Batch.NextDelay,
		Logger:    a.logger,
	})

	summary, err := coord.Run(ctx, files, extract.Emitter(emit))
	if sources := summary.Sources(); len(sources) > 0 {
		a.remember(undo.Entry{
			Kind:        undo.KindUploadBatch,
			RowIDs:      summary.InsertedIDs(),
			Sources:     sources,
			Description: fmt.Sprintf("batch of %d files (%d rows)", len(sources), summary.Inserted),
		})
	}
	return err
}

func resultError(res domain.Result) error {
	if len(res.Errors) > 0 {
		return res.Errors[len(res.Errors)-1]
	}
	return domain.ExtractionError(fmt.Sprintf("%s failed", res.Source), nil)
}

// ExpandInputs turns directories into the supported files they contain and
// keeps plain file arguments as given. Order follows the arguments, then
// lexical order within a directory.
func ExpandInputs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if fi, err := os.Stat(arg); err != nil || !fi.IsDir() {
			out = append(out, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*"))
		if err != nil {
			return nil, domain.IOError("failed to list "+arg, err)
		}
		for _, m := range matches {
			if pdf.DetectKind(m) != domain.KindUnsupported && !strings.HasPrefix(filepath.Base(m), ".") {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, domain.ValidationError("no supported input files found", nil)
	}
	return out, nil
}
