package resilience

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many expensive operations, such as language server
// spawns, run at the same time.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a Limiter allowing at most limit concurrent operations.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. It returns the
// context error if ctx ends while waiting. A nil Limiter runs fn directly.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if l == nil || l.sem == nil {
		return fn()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for spawn slot: %w", err)
	}
	defer l.sem.Release(1)
	return fn()
}
