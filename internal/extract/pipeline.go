package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// Notices attached to runs that complete without persisting anything.
const (
	NoticeNoPages    = "no pages"
	NoticeNoProducts = "no products found"
)

// Progress checkpoints.
const (
	progressDecomposed = 25
	progressExtracted  = 95
	progressDone       = 100

	progressImageRead      = 10
	progressImageSent      = 20
	progressImageExtracted = 60
	progressImageValidated = 80
)

// Emitter receives pipeline events in order.
type Emitter func(domain.StreamEvent)

// Options configures a Pipeline
type Options struct {
	// Renderer is used for blank-text pages when ScannedPageVision is set
	Renderer          domain.PageRenderer
	ScannedPageVision bool
	Logger            *observability.Logger
}

// Pipeline runs one input file through decomposition, extraction,
// validation and persistence. A Pipeline handles one file at a time.
type Pipeline struct {
	decomposer domain.Decomposer
	extractor  domain.Extractor
	sink       domain.RecordSink
	renderer   domain.PageRenderer
	scanned    bool
	validator  *RecordValidator
	logger     *observability.Logger
}

// NewPipeline creates a new extraction pipeline
func NewPipeline(decomposer domain.Decomposer, extractor domain.Extractor, sink domain.RecordSink, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return &Pipeline{
		decomposer: decomposer,
		extractor:  extractor,
		sink:       sink,
		renderer:   opts.Renderer,
		scanned:    opts.ScannedPageVision,
		validator:  NewRecordValidator(),
		logger:     logger.WithComponent("extract"),
	}
}

// unitRecords are the candidates of one page (or the single image).
type unitRecords struct {
	source  string
	vision  bool
	records []domain.ProductRecord
}

// run tracks the mutable state of one execution.
type run struct {
	emit     Emitter
	name     string
	progress int
	result   domain.Result
	start    time.Time
}

func (r *run) event(t domain.EventType, page int, payload any) {
	r.emit(domain.StreamEvent{
		Type:       t,
		Source:     r.name,
		PageNumber: page,
		Progress:   r.progress,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

func (r *run) advance(p int, status string) {
	if p > r.progress {
		r.progress = p
	}
	r.event(domain.EventProgress, 0, status)
}

func (r *run) state(s domain.PipelineState) {
	r.result.State = s
	r.event(domain.EventStatus, 0, s)
}

// finish moves the run into a terminal state and emits the matching terminal event.
func (r *run) finish(s domain.PipelineState, err error) domain.Result {
	r.result.State = s
	r.result.Duration = time.Since(r.start)
	if err != nil {
		r.result.Errors = append(r.result.Errors, err)
	}
	switch s {
	case domain.StateCompleted:
		r.progress = progressDone
		r.event(domain.EventComplete, 0, r.result)
	case domain.StateCancelled:
		r.event(domain.EventCancelled, 0, r.result)
	default:
		r.event(domain.EventFailed, 0, r.result)
	}
	return r.result
}

// Run processes the file at path and returns its summary. Every run ends
// with exactly one terminal event (complete, failed or cancelled) and emits
// nothing after it.
func (p *Pipeline) Run(ctx context.Context, path string, kind domain.InputKind, emit Emitter) domain.Result {
	if emit == nil {
		emit = func(domain.StreamEvent) {}
	}

	name := filepath.Base(path)
	r := &run{
		emit:  emit,
		name:  name,
		start: time.Now(),
		result: domain.Result{
			Kind:  kind,
			State: domain.StateIdle,
		},
	}

	log := p.logger.WithOperation("run")
	log.Info().Str("file", name).Str("kind", string(kind)).Msg("pipeline started")

	var res domain.Result
	switch kind {
	case domain.KindDocument:
		r.result.Source = name
		res = p.runDocument(ctx, path, r)
	case domain.KindImage:
		r.result.Source = domain.ImageSource(name)
		res = p.runImage(ctx, path, r)
	default:
		res = r.finish(domain.StateFailed, domain.ValidationError(fmt.Sprintf("unsupported file type: %s", name), nil))
	}

	log.Info().Str("file", name).Str("state", string(res.State)).
		Int("inserted", res.Inserted).Int("rejected", res.Rejected).
		Int("failed_units", res.FailedUnits).Dur("duration", res.Duration).
		Msg("pipeline finished")
	return res
}

func (p *Pipeline) runDocument(ctx context.Context, path string, r *run) domain.Result {
	r.state(domain.StateDecomposing)
	r.advance(0, "Reading document")

	pages, err := p.decomposer.Pages(ctx, path)
	if err != nil {
		if cancelled(ctx, err) {
			return r.finish(domain.StateCancelled, nil)
		}
		return r.finish(domain.StateFailed, err)
	}
	r.result.Pages = len(pages)

	if len(pages) == 0 {
		r.result.Notice = NoticeNoPages
		r.event(domain.EventNotice, 0, NoticeNoPages)
		return r.finish(domain.StateCompleted, nil)
	}
	r.advance(progressDecomposed, fmt.Sprintf("Found %d pages", len(pages)))

	if p.renderer != nil {
		defer func() {
			if err := p.renderer.Cleanup(); err != nil {
				p.logger.Warn().Err(err).Msg("failed to clean up rendered pages")
			}
		}()
	}

	r.state(domain.StateExtracting)
	units := make([]unitRecords, 0, len(pages))
	perPage := float64(progressExtracted-progressDecomposed) / float64(len(pages))

	for i, page := range pages {
		if ctx.Err() != nil {
			return r.finish(domain.StateCancelled, nil)
		}

		r.event(domain.EventPageProcessing, page.PageNumber, fmt.Sprintf("Processing page %d of %d", page.PageNumber, len(pages)))

		unit, err := p.extractPage(ctx, path, r.name, page)
		if err != nil {
			if cancelled(ctx, err) {
				return r.finish(domain.StateCancelled, nil)
			}
			r.result.FailedUnits++
			pageErr := fmt.Errorf("page %d: %w", page.PageNumber, err)
			r.result.Errors = append(r.result.Errors, pageErr)
			r.event(domain.EventError, page.PageNumber, pageErr.Error())
			p.logger.Error().Err(err).Int("page", page.PageNumber).Str("file", r.name).Msg("page extraction failed")
		} else {
			units = append(units, unit)
			r.event(domain.EventPageComplete, page.PageNumber, len(unit.records))
		}

		r.advance(progressDecomposed+int(perPage*float64(i+1)), fmt.Sprintf("Extracted page %d of %d", page.PageNumber, len(pages)))
	}

	if r.result.FailedUnits == len(pages) {
		return r.finish(domain.StateFailed, domain.ExtractionError("All pages failed to extract", nil))
	}

	return p.validateAndPersist(ctx, r, units, progressExtracted)
}

// extractPage runs one page through the text model, or through the vision
// model when the page has no text layer and scanned-page vision is enabled.
func (p *Pipeline) extractPage(ctx context.Context, path, name string, page domain.PageText) (unitRecords, error) {
	unit := unitRecords{source: domain.DocumentSource(name, page.PageNumber)}

	if strings.TrimSpace(page.Text) == "" {
		if !p.scanned || p.renderer == nil {
			return unit, nil
		}
		img, err := p.renderer.RenderPage(ctx, path, page.PageNumber)
		if err != nil {
			return unit, err
		}
		items, err := p.extractor.ExtractImage(ctx, img.ImagePath)
		if err != nil {
			return unit, err
		}
		unit.vision = true
		for _, item := range items {
			unit.records = append(unit.records, FromVision(item))
		}
		return unit, nil
	}

	candidates, err := p.extractor.ExtractText(ctx, page.Text)
	if err != nil {
		return unit, err
	}
	for _, c := range candidates {
		unit.records = append(unit.records, Normalize(c))
	}
	return unit, nil
}

func (p *Pipeline) runImage(ctx context.Context, path string, r *run) domain.Result {
	r.advance(progressImageRead, "Reading image")
	if ctx.Err() != nil {
		return r.finish(domain.StateCancelled, nil)
	}

	r.state(domain.StateExtracting)
	r.result.Pages = 1
	r.advance(progressImageSent, "Analyzing image")

	items, err := p.extractor.ExtractImage(ctx, path)
	if err != nil {
		if cancelled(ctx, err) {
			return r.finish(domain.StateCancelled, nil)
		}
		r.result.FailedUnits = 1
		return r.finish(domain.StateFailed, err)
	}
	r.advance(progressImageExtracted, fmt.Sprintf("Found %d items", len(items)))

	unit := unitRecords{source: r.result.Source, vision: true}
	for _, item := range items {
		unit.records = append(unit.records, FromVision(item))
	}
	return p.validateAndPersist(ctx, r, []unitRecords{unit}, progressImageValidated)
}

// validateAndPersist filters the accumulated records, tags provenance and
// writes the survivors in a single bulk insert.
func (p *Pipeline) validateAndPersist(ctx context.Context, r *run, units []unitRecords, validatedAt int) domain.Result {
	if ctx.Err() != nil {
		return r.finish(domain.StateCancelled, nil)
	}

	r.state(domain.StateValidating)
	var accepted []domain.ProductRecord
	for _, u := range units {
		for _, rec := range u.records {
			var err error
			if u.vision {
				err = p.validator.ValidateVision(rec)
			} else {
				err = p.validator.ValidateText(rec)
			}
			if err != nil {
				r.result.Rejected++
				p.logger.Debug().Err(err).Str("source", u.source).Msg("record dropped")
				continue
			}
			rec.UniqueID = 0
			rec.PDFSource = u.source
			accepted = append(accepted, rec)
		}
	}
	r.advance(validatedAt, fmt.Sprintf("%d records valid, %d rejected", len(accepted), r.result.Rejected))

	if len(accepted) == 0 {
		r.result.Notice = NoticeNoProducts
		r.event(domain.EventNotice, 0, NoticeNoProducts)
		return r.finish(domain.StateCompleted, nil)
	}

	if ctx.Err() != nil {
		return r.finish(domain.StateCancelled, nil)
	}

	r.state(domain.StatePersisting)
	ids, err := p.sink.BulkInsert(ctx, accepted)
	if err != nil {
		return r.finish(domain.StateFailed, err)
	}
	r.result.Inserted = len(ids)
	r.result.InsertedIDs = ids
	return r.finish(domain.StateCompleted, nil)
}

// cancelled reports whether err came from the run's own context ending
// rather than from the unit itself.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err != nil
}
