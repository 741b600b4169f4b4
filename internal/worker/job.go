// Package worker runs long operations on their own goroutine and hands their
// events to a single consumer.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

const eventBuffer = 64

// Func is the body of a job. It emits events through emit and should end
// with a terminal event; Job adds one if it does not.
type Func func(ctx context.Context, emit func(domain.StreamEvent)) error

// Job owns one background goroutine and its ordered event channel
type Job struct {
	ID     string
	Name   string
	events chan domain.StreamEvent
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
	logger *observability.Logger

	mu       sync.Mutex
	finished bool
	err      error
}

// Start launches fn on a new goroutine
func Start(parent context.Context, name string, logger *observability.Logger, fn Func) *Job {
	if logger == nil {
		logger = observability.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	j := &Job{
		ID:     id,
		Name:   name,
		events: make(chan domain.StreamEvent, eventBuffer),
		cancel: cancel,
		ctx:    ctx,
		done:   make(chan struct{}),
		logger: logger.WithRun(id).WithComponent("worker"),
	}
	go j.run(fn)
	return j
}

func (j *Job) run(fn Func) {
	defer close(j.done)
	defer close(j.events)
	defer j.cancel()

	j.logger.Debug().Str("job", j.Name).Msg("job started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = domain.NewError(domain.ErrorTypeIO, "job panicked", nil)
				j.logger.Error().Str("job", j.Name).Msgf("panic: %v", r)
			}
		}()
		return fn(j.ctx, j.emit)
	}()

	j.mu.Lock()
	j.err = err
	finished := j.finished
	j.mu.Unlock()

	if !finished {
		switch {
		case err != nil && j.ctx.Err() != nil:
			j.emit(domain.StreamEvent{Type: domain.EventCancelled, Payload: err.Error()})
		case err != nil:
			j.emit(domain.StreamEvent{Type: domain.EventFailed, Payload: err.Error()})
		default:
			j.emit(domain.StreamEvent{Type: domain.EventComplete})
		}
	}

	if err != nil {
		j.logger.Error().Err(err).Str("job", j.Name).Msg("job finished with error")
	} else {
		j.logger.Debug().Str("job", j.Name).Msg("job finished")
	}
}

// emit forwards e unless the stream already ended. Once the job is stopped
// only the terminal event gets through.
func (j *Job) emit(e domain.StreamEvent) {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		return
	}
	if e.Type.Terminal() {
		j.finished = true
	} else if j.ctx.Err() != nil {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	j.events <- e
}

// Events returns the job's event stream. It is closed after the terminal event.
func (j *Job) Events() <-chan domain.StreamEvent {
	return j.events
}

// Stop asks the job to halt at its next safe boundary
func (j *Job) Stop() {
	j.cancel()
}

// Wait blocks until the job has finished and returns its error. Events must
// be drained concurrently or the job may block on a full channel.
func (j *Job) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Drain consumes events with handle until the stream closes, then waits.
func (j *Job) Drain(handle func(domain.StreamEvent)) error {
	for e := range j.events {
		if handle != nil {
			handle(e)
		}
	}
	return j.Wait()
}
