// Package lifecycle tears down long-lived components in reverse start order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Disposable is a component holding resources that must be released on exit.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func(ctx context.Context) error

// Dispose implements Disposable.
func (f DisposeFunc) Dispose(ctx context.Context) error { return f(ctx) }

type entry struct {
	name string
	d    Disposable
}

// Coordinator disposes registered components once, last registered first.
type Coordinator struct {
	mu       sync.Mutex
	entries  []entry
	disposed bool
	timeout  time.Duration
}

// New creates a Coordinator whose Shutdown is bounded by timeout.
func New(timeout time.Duration) *Coordinator {
	return &Coordinator{timeout: timeout}
}

// Register adds d under name. Components registered after Shutdown are
// disposed immediately.
func (c *Coordinator) Register(name string, d Disposable) {
	c.mu.Lock()
	if !c.disposed {
		c.entries = append(c.entries, entry{name: name, d: d})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := d.Dispose(ctx); err != nil {
		slog.Warn("late dispose failed", "component", name, "error", err)
	}
}

// Shutdown disposes every component in reverse registration order. Every
// component is attempted even after a failure or once the deadline passes;
// failures are logged and joined into the returned error. Later calls are
// no-ops.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		start := time.Now()
		if err := e.d.Dispose(ctx); err != nil {
			slog.Error("dispose failed", "component", e.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		slog.Debug("disposed", "component", e.name, "duration_ms", time.Since(start).Milliseconds())
	}
	return errors.Join(errs...)
}
