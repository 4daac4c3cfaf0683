package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/codeintel/internal/lifecycle"
)

func TestShutdownReverseOrder(t *testing.T) {
	c := lifecycle.New(time.Second)
	var order []string
	for _, name := range []string{"cache", "pool", "http"} {
		c.Register(name, lifecycle.DisposeFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := strings.Join(order, ","); got != "http,pool,cache" {
		t.Errorf("expected reverse order, got %s", got)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("second Shutdown must be a no-op, got %v", order)
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	c := lifecycle.New(time.Second)
	boom := errors.New("boom")
	ran := false
	c.Register("first", lifecycle.DisposeFunc(func(context.Context) error {
		ran = true
		return nil
	}))
	c.Register("broken", lifecycle.DisposeFunc(func(context.Context) error { return boom }))

	err := c.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the failure to be returned, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the component, got %v", err)
	}
	if !ran {
		t.Error("components before a failing one must still be disposed")
	}
}

func TestShutdownIsBounded(t *testing.T) {
	c := lifecycle.New(50 * time.Millisecond)
	c.Register("slow", lifecycle.DisposeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	err := c.Shutdown(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %v", elapsed)
	}
}

func TestRegisterAfterShutdown(t *testing.T) {
	c := lifecycle.New(time.Second)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	disposed := false
	c.Register("late", lifecycle.DisposeFunc(func(context.Context) error {
		disposed = true
		return nil
	}))
	if !disposed {
		t.Error("a component registered after Shutdown must be disposed at once")
	}
}
