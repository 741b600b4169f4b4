// Package batch processes a queue of input files one at a time.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/extract"
	"github.com/spherical/sweetspot/internal/observability"
	"github.com/spherical/sweetspot/internal/pdf"
)

// Runner processes a single file. extract.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, path string, kind domain.InputKind, emit extract.Emitter) domain.Result
}

// RunnerFactory returns a fresh Runner for each file.
type RunnerFactory func() Runner

// Options configures a Coordinator
type Options struct {
	Policy    string
	SkipDelay time.Duration
	NextDelay time.Duration
	Detect    func(path string) domain.InputKind
	Logger    *observability.Logger
}

// Coordinator runs queued files strictly in order
type Coordinator struct {
	newRunner RunnerFactory
	policy    string
	skipDelay time.Duration
	nextDelay time.Duration
	detect    func(string) domain.InputKind
	logger    *observability.Logger
}

// Summary describes a finished batch
type Summary struct {
	ID       string
	Files    int
	Results  []domain.Result
	Skipped  []string
	Failed   []string
	Aborted  []string
	Inserted int
}

// Sources returns the provenance roots of files that persisted records
func (s Summary) Sources() []string {
	var out []string
	for _, r := range s.Results {
		if r.Inserted > 0 {
			out = append(out, r.Source)
		}
	}
	return out
}

// InsertedIDs returns the UniqueIDs of every row the batch persisted
func (s Summary) InsertedIDs() []int64 {
	var out []int64
	for _, r := range s.Results {
		out = append(out, r.InsertedIDs...)
	}
	return out
}

// FileStarted is the payload of a file_started event
type FileStarted struct {
	Index int
	Total int
	Path  string
	Kind  domain.InputKind
}

// NewCoordinator creates a coordinator that builds one runner per file
func NewCoordinator(newRunner RunnerFactory, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	detect := opts.Detect
	if detect == nil {
		detect = pdf.DetectKind
	}
	policy := opts.Policy
	if policy == "" {
		policy = config.PolicyAbort
	}
	return &Coordinator{
		newRunner: newRunner,
		policy:    policy,
		skipDelay: opts.SkipDelay,
		nextDelay: opts.NextDelay,
		detect:    detect,
		logger:    logger.WithComponent("batch"),
	}
}

// Run processes files in queue order. Per-file terminal events are forwarded
// as file_finished; the batch itself ends with batch_completed, failed or
// cancelled. Under the abort policy the first failed file stops the queue.
func (c *Coordinator) Run(ctx context.Context, files []string, emit extract.Emitter) (Summary, error) {
	if emit == nil {
		emit = func(domain.StreamEvent) {}
	}
	summary := Summary{ID: uuid.NewString(), Files: len(files)}
	log := c.logger.WithRun(summary.ID)
	log.Info().Int("files", len(files)).Str("policy", c.policy).Msg("batch started")

	send := func(t domain.EventType, source string, payload any) {
		emit(domain.StreamEvent{Type: t, Source: source, Payload: payload, Timestamp: time.Now()})
	}

	for i, path := range files {
		if ctx.Err() != nil {
			send(domain.EventCancelled, "", summary)
			return summary, ctx.Err()
		}

		name := filepath.Base(path)
		kind := c.detect(path)
		send(domain.EventFileStarted, name, FileStarted{Index: i + 1, Total: len(files), Path: path, Kind: kind})

		if kind == domain.KindUnsupported {
			summary.Skipped = append(summary.Skipped, path)
			send(domain.EventStatus, name, fmt.Sprintf("Skipping unsupported file: %s", name))
			log.Warn().Str("file", name).Msg("unsupported file skipped")
			if err := sleep(ctx, c.skipDelay); err != nil {
				send(domain.EventCancelled, "", summary)
				return summary, err
			}
			continue
		}

		res := c.newRunner().Run(ctx, path, kind, func(e domain.StreamEvent) {
			if e.Type.Terminal() {
				e.Type = domain.EventFileFinished
			}
			emit(e)
		})
		summary.Results = append(summary.Results, res)
		summary.Inserted += res.Inserted

		if res.State == domain.StateCancelled {
			send(domain.EventCancelled, "", summary)
			return summary, context.Canceled
		}
		// A file with any failed page counts as failed even though its
		// other pages were persisted.
		if res.State == domain.StateFailed || res.FailedUnits > 0 {
			summary.Failed = append(summary.Failed, path)
			if c.policy != config.PolicySkip {
				summary.Aborted = append(summary.Aborted, files[i+1:]...)
				err := domain.ExtractionError(fmt.Sprintf("batch aborted: %s failed", name), firstErr(res.Errors))
				log.Error().Err(err).Int("aborted", len(summary.Aborted)).Msg("batch aborted")
				send(domain.EventFailed, "", summary)
				return summary, err
			}
			log.Warn().Str("file", name).Msg("file failed, continuing with next")
		}

		if i < len(files)-1 {
			if err := sleep(ctx, c.nextDelay); err != nil {
				send(domain.EventCancelled, "", summary)
				return summary, err
			}
		}
	}

	log.Info().Int("inserted", summary.Inserted).Int("failed", len(summary.Failed)).
		Int("skipped", len(summary.Skipped)).Msg("batch completed")
	send(domain.EventBatchCompleted, "", summary)
	return summary, nil
}

func firstErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[len(errs)-1]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
