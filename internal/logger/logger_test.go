package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Strob0t/codeintel/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc", Format: "json"}, &buf)
	defer closer.Close()

	l.Debug("lsp server started", "server", "gopls")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "test-svc" || rec["server"] != "gopls" || rec["msg"] != "lsp server started" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(config.Logging{Level: "info", Service: "svc", Format: "text"}, &buf)
	defer closer.Close()

	l.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestNewAutoNonTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(config.Logging{Level: "info", Service: "svc", Format: "auto"}, &buf)
	defer closer.Close()

	l.Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON for non-terminal writer, got %q", buf.String())
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(config.Logging{Level: "warn", Service: "svc", Format: "json"}, &buf)
	defer closer.Close()

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestNewAsync(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc", Format: "json", Async: true, BufferSize: 16, Workers: 1}, &buf)
	l.Info("queued")
	closer.Close()
	if !strings.Contains(buf.String(), `"msg":"queued"`) {
		t.Errorf("expected record after Close, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestRequestIDInRecords(t *testing.T) {
	for _, async := range []bool{false, true} {
		var buf bytes.Buffer
		l, closer := New(config.Logging{Level: "info", Service: "svc", Format: "json", Async: async, BufferSize: 8, Workers: 1}, &buf)
		l.InfoContext(WithRequestID(context.Background(), "req-9"), "handled")
		closer.Close()
		if !strings.Contains(buf.String(), `"request_id":"req-9"`) {
			t.Errorf("async=%v: request id missing from %q", async, buf.String())
		}
	}
}
