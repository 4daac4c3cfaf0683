package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

func response(id int64, result string) *ResponseMessage {
	return &ResponseMessage{ID: NumberID(id), Result: json.RawMessage(result)}
}

func TestCorrelatorIDsStrictlyIncrease(t *testing.T) {
	c := NewCorrelator(nil)
	var last int64
	for i := 0; i < 5; i++ {
		call, err := c.Register("m", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if call.ID <= last {
			t.Fatalf("id %d not greater than %d", call.ID, last)
		}
		last = call.ID
		c.Resolve(response(call.ID, "null"))
	}
}

func TestCorrelatorOutOfOrderResponses(t *testing.T) {
	c := NewCorrelator(nil)
	calls := make([]*Call, 3)
	for i := range calls {
		call, err := c.Register("textDocument/hover", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		calls[i] = call
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call *Call) {
			defer wg.Done()
			raw, err := call.Wait(context.Background())
			if err != nil {
				t.Errorf("call %d: %v", call.ID, err)
				return
			}
			results[i] = string(raw)
		}(i, call)
	}

	for i := len(calls) - 1; i >= 0; i-- {
		id := calls[i].ID
		if !c.Resolve(response(id, `"r`+string(rune('0'+id))+`"`)) {
			t.Fatalf("resolve %d reported no pending request", id)
		}
	}
	wg.Wait()

	for i, call := range calls {
		want := `"r` + string(rune('0'+call.ID)) + `"`
		if results[i] != want {
			t.Errorf("call %d got %s, want %s", call.ID, results[i], want)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", c.Pending())
	}
}

func TestCorrelatorServerError(t *testing.T) {
	c := NewCorrelator(nil)
	call, _ := c.Register("textDocument/rename", time.Minute)
	c.Resolve(&ResponseMessage{ID: NumberID(call.ID), Error: &ResponseError{Code: -32803, Message: "cannot rename builtin"}})

	_, err := call.Wait(context.Background())
	var se *lspDomain.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %T: %v", err, err)
	}
	if err.Error() != "cannot rename builtin" || se.Method != "textDocument/rename" {
		t.Errorf("unexpected server error: %+v", se)
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(func() string { return "panic: index out of range" })
	timeout := 100 * time.Millisecond
	call, _ := c.Register("textDocument/references", timeout)

	start := time.Now()
	_, err := call.Wait(context.Background())
	elapsed := time.Since(start)

	var te *lspDomain.RequestTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected RequestTimeoutError, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("timed out early after %v", elapsed)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("timed out too late after %v", elapsed)
	}
	if !strings.Contains(err.Error(), "panic: index out of range") {
		t.Errorf("timeout should carry stderr tail, got %q", err.Error())
	}

	// The late reply is dropped.
	if c.Resolve(response(call.ID, "[]")) {
		t.Error("late response should not match a pending request")
	}
}

func TestCorrelatorTimeoutIsPerRequest(t *testing.T) {
	c := NewCorrelator(nil)
	short, _ := c.Register("a", 50*time.Millisecond)
	long, _ := c.Register("b", time.Minute)

	if _, err := short.Wait(context.Background()); !lspDomain.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected the other request to stay pending, got %d", c.Pending())
	}
	c.Resolve(response(long.ID, `true`))
	raw, err := long.Wait(context.Background())
	if err != nil || string(raw) != "true" {
		t.Errorf("expected true, got %s, %v", raw, err)
	}
}

func TestCorrelatorRejectAll(t *testing.T) {
	c := NewCorrelator(nil)
	a, _ := c.Register("a", time.Minute)
	b, _ := c.Register("b", time.Minute)

	c.RejectAll(lspDomain.ErrConnectionStopped)

	for _, call := range []*Call{a, b} {
		if _, err := call.Wait(context.Background()); !errors.Is(err, lspDomain.ErrConnectionStopped) {
			t.Errorf("call %d: expected ErrConnectionStopped, got %v", call.ID, err)
		}
	}
	if _, err := c.Register("c", time.Minute); !errors.Is(err, lspDomain.ErrConnectionStopped) {
		t.Errorf("register after RejectAll: expected ErrConnectionStopped, got %v", err)
	}
}

func TestCorrelatorContextCancel(t *testing.T) {
	c := NewCorrelator(nil)
	call, _ := c.Register("a", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("cancelled request should be removed, %d pending", c.Pending())
	}
}
