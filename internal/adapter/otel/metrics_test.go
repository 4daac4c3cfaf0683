package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/codeintel/internal/config"
)

func TestNewMetricsWithNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordRequest(ctx, "hover", "gopls", 10*time.Millisecond, nil, false)
	m.RecordRequest(ctx, "references", "gopls", time.Second, errors.New("timeout"), true)
	m.RecordSpawn(ctx, "gopls", nil)
	m.RecordSpawn(ctx, "gopls", errors.New("not found"))
	m.RecordStop(ctx, "gopls", true)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest(context.Background(), "hover", "gopls", 0, nil, false)
	m.RecordSpawn(context.Background(), "gopls", nil)
	m.RecordStop(context.Background(), "gopls", false)
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "codeintel", config.Telemetry{SampleRate: 1})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSpanHelpers(t *testing.T) {
	_, span := StartLSPSpan(context.Background(), "hover", "gopls", "/w", "/w/main.go")
	EndSpan(span, errors.New("boom"))
	_, span = StartSpawnSpan(context.Background(), "gopls", "/w")
	EndSpan(span, nil)
}
