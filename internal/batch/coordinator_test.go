package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/extract"
)

// scriptedRunner ends each file in the state listed for it.
type scriptedRunner struct {
	states map[string]domain.PipelineState
	seen   *[]string
	onRun  func()
}

func (r scriptedRunner) Run(_ context.Context, path string, kind domain.InputKind, emit extract.Emitter) domain.Result {
	*r.seen = append(*r.seen, path)
	if r.onRun != nil {
		r.onRun()
	}
	state := r.states[path]
	if state == "" {
		state = domain.StateCompleted
	}
	res := domain.Result{Source: path, Kind: kind, State: state}
	if state == domain.StateCompleted {
		res.Inserted = 2
	}
	if state == domain.StateFailed {
		res.Errors = []error{errors.New("extraction failed")}
	}
	emit(domain.StreamEvent{Type: domain.EventProgress, Source: path, Progress: 50})
	switch state {
	case domain.StateCompleted:
		emit(domain.StreamEvent{Type: domain.EventComplete, Source: path})
	case domain.StateFailed:
		emit(domain.StreamEvent{Type: domain.EventFailed, Source: path})
	default:
		emit(domain.StreamEvent{Type: domain.EventCancelled, Source: path})
	}
	return res
}

// twoPageDecomposer yields two text pages per file, "<name> p1" and "<name> p2".
type twoPageDecomposer struct{}

func (twoPageDecomposer) Pages(_ context.Context, path string) ([]domain.PageText, error) {
	name := filepath.Base(path)
	return []domain.PageText{
		{PageNumber: 1, Text: name + " p1"},
		{PageNumber: 2, Text: name + " p2"},
	}, nil
}

// pageExtractor returns one valid record per page and fails the pages in fail.
type pageExtractor struct {
	fail map[string]bool
}

func (e pageExtractor) ExtractText(_ context.Context, text string) ([]domain.Candidate, error) {
	if e.fail[text] {
		return nil, fmt.Errorf("inference error on %q", text)
	}
	return []domain.Candidate{{
		"ProductID":               "7",
		"SKU":                     "12345",
		"ArticleDescriptionBatch": text,
		"ExpiryDate":              "01.02.2031",
	}}, nil
}

func (pageExtractor) ExtractImage(context.Context, string) ([]domain.VisionCandidate, error) {
	return nil, errors.New("no images in this test")
}

type countingSink struct {
	rows []domain.ProductRecord
}

func (s *countingSink) BulkInsert(_ context.Context, recs []domain.ProductRecord) ([]int64, error) {
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = int64(len(s.rows) + i + 1)
	}
	s.rows = append(s.rows, recs...)
	return ids, nil
}

func pipelineCoordinator(sink *countingSink, failing []string, seen *[]string, policy string) *Coordinator {
	ext := pageExtractor{fail: map[string]bool{}}
	for _, text := range failing {
		ext.fail[text] = true
	}
	return NewCoordinator(func() Runner {
		return runnerFunc(func(ctx context.Context, path string, kind domain.InputKind, emit extract.Emitter) domain.Result {
			*seen = append(*seen, filepath.Base(path))
			return extract.NewPipeline(twoPageDecomposer{}, ext, sink, extract.Options{}).Run(ctx, path, kind, emit)
		})
	}, Options{Policy: policy})
}

type runnerFunc func(ctx context.Context, path string, kind domain.InputKind, emit extract.Emitter) domain.Result

func (f runnerFunc) Run(ctx context.Context, path string, kind domain.InputKind, emit extract.Emitter) domain.Result {
	return f(ctx, path, kind, emit)
}

func newCoordinator(states map[string]domain.PipelineState, seen *[]string, policy string) *Coordinator {
	return NewCoordinator(func() Runner {
		return scriptedRunner{states: states, seen: seen}
	}, Options{Policy: policy})
}

func collectEvents(events *[]domain.StreamEvent) extract.Emitter {
	return func(e domain.StreamEvent) { *events = append(*events, e) }
}

func TestRun_AbortPolicyStopsQueue(t *testing.T) {
	var seen []string
	var events []domain.StreamEvent
	c := newCoordinator(map[string]domain.PipelineState{"f2.pdf": domain.StateFailed}, &seen, config.PolicyAbort)

	summary, err := c.Run(context.Background(), []string{"f1.pdf", "f2.pdf", "f3.pdf"}, collectEvents(&events))

	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
	assert.Equal(t, []string{"f1.pdf", "f2.pdf"}, seen, "f3 is never processed")
	assert.Equal(t, []string{"f2.pdf"}, summary.Failed)
	assert.Equal(t, []string{"f3.pdf"}, summary.Aborted)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, []string{"f1.pdf"}, summary.Sources())

	last := events[len(events)-1]
	assert.Equal(t, domain.EventFailed, last.Type)
	for _, e := range events[:len(events)-1] {
		assert.False(t, e.Type.Terminal(), "per-file terminal events are forwarded as file_finished")
	}
}

func TestRun_AbortPolicyStopsOnFailedPage(t *testing.T) {
	sink := &countingSink{}
	var seen []string
	c := pipelineCoordinator(sink, []string{"f2.pdf p2"}, &seen, config.PolicyAbort)

	summary, err := c.Run(context.Background(), []string{"/in/f1.pdf", "/in/f2.pdf", "/in/f3.pdf"}, nil)

	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
	assert.Equal(t, []string{"f1.pdf", "f2.pdf"}, seen)
	assert.Equal(t, []string{"/in/f2.pdf"}, summary.Failed)
	assert.Equal(t, []string{"/in/f3.pdf"}, summary.Aborted)

	// f1 and the surviving page of f2 were already persisted.
	assert.Len(t, sink.rows, 3)
	assert.Equal(t, []int64{1, 2, 3}, summary.InsertedIDs())
}

func TestRun_SkipPolicyRecordsFailedPage(t *testing.T) {
	sink := &countingSink{}
	var seen []string
	c := pipelineCoordinator(sink, []string{"f2.pdf p2"}, &seen, config.PolicySkip)

	summary, err := c.Run(context.Background(), []string{"/in/f1.pdf", "/in/f2.pdf", "/in/f3.pdf"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"f1.pdf", "f2.pdf", "f3.pdf"}, seen)
	assert.Equal(t, []string{"/in/f2.pdf"}, summary.Failed)
	assert.Len(t, sink.rows, 5)
}

func TestRun_SkipPolicyContinues(t *testing.T) {
	var seen []string
	var events []domain.StreamEvent
	c := newCoordinator(map[string]domain.PipelineState{"f2.pdf": domain.StateFailed}, &seen, config.PolicySkip)

	summary, err := c.Run(context.Background(), []string{"f1.pdf", "f2.pdf", "f3.png"}, collectEvents(&events))

	require.NoError(t, err)
	assert.Equal(t, []string{"f1.pdf", "f2.pdf", "f3.png"}, seen)
	assert.Equal(t, []string{"f2.pdf"}, summary.Failed)
	assert.Empty(t, summary.Aborted)
	assert.Equal(t, 4, summary.Inserted)
	assert.Equal(t, domain.EventBatchCompleted, events[len(events)-1].Type)
}

func TestRun_UnsupportedFilesAreSkipped(t *testing.T) {
	var seen []string
	var events []domain.StreamEvent
	c := NewCoordinator(func() Runner {
		return scriptedRunner{seen: &seen}
	}, Options{SkipDelay: 5 * time.Millisecond, NextDelay: time.Millisecond})

	start := time.Now()
	summary, err := c.Run(context.Background(), []string{"notes.txt", "slip.pdf", "shelf.JPG"}, collectEvents(&events))

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, []string{"slip.pdf", "shelf.JPG"}, seen)
	assert.Equal(t, []string{"notes.txt"}, summary.Skipped)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, domain.KindImage, summary.Results[1].Kind)

	started := 0
	for _, e := range events {
		if e.Type == domain.EventFileStarted {
			started++
		}
	}
	assert.Equal(t, 3, started)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	var events []domain.StreamEvent
	c := NewCoordinator(func() Runner {
		return scriptedRunner{seen: &seen, onRun: cancel}
	}, Options{})

	_, err := c.Run(ctx, []string{"a.pdf", "b.pdf"}, collectEvents(&events))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a.pdf"}, seen)
	assert.Equal(t, domain.EventCancelled, events[len(events)-1].Type)
}

func TestRun_EmptyQueue(t *testing.T) {
	var events []domain.StreamEvent
	summary, err := NewCoordinator(nil, Options{}).Run(context.Background(), nil, collectEvents(&events))
	require.NoError(t, err)
	assert.Zero(t, summary.Files)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBatchCompleted, events[0].Type)
}
