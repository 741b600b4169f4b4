package store

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/spherical/sweetspot/internal/domain"
)

// Guard serializes mutating workflows against the store file.
type Guard struct {
	sem *semaphore.Weighted
}

// NewGuard returns an unlocked guard.
func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the guard is free or ctx ends. The returned func releases it.
func (g *Guard) Lock(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// TryLock acquires the guard without blocking.
func (g *Guard) TryLock() (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { g.sem.Release(1) }, true
}

// GuardedSink wraps a store so bulk inserts hold the guard.
type GuardedSink struct {
	Store *Store
	Guard *Guard
}

// BulkInsert implements domain.RecordSink.
func (g GuardedSink) BulkInsert(ctx context.Context, recs []domain.ProductRecord) ([]int64, error) {
	unlock, err := g.Guard.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return g.Store.BulkInsert(ctx, recs)
}
