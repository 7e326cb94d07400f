package tracker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock serializes everything that mutates scheduler state: a full
// reconciliation pass, and operator actions that offline/online nodes or
// open/close issues. Acquire before, Release after; it is not reentrant.
type Lock struct {
	sem *semaphore.Weighted
}

// NewLock creates an unlocked Lock
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is held or ctx is done
func (l *Lock) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire takes the lock only if it is free
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release gives up the lock
func (l *Lock) Release() {
	l.sem.Release(1)
}
