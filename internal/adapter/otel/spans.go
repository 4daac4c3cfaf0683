package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codeintel"

// StartLSPSpan starts a span for one code-intelligence operation.
func StartLSPSpan(ctx context.Context, op, serverID, root, file string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lsp."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lsp.operation", op),
			attribute.String("lsp.server", serverID),
			attribute.String("lsp.root", root),
			attribute.String("lsp.file", file),
		),
	)
}

// StartSpawnSpan starts a span for spawning and initializing a language server.
func StartSpawnSpan(ctx context.Context, serverID, root string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lsp.spawn",
		trace.WithAttributes(
			attribute.String("lsp.server", serverID),
			attribute.String("lsp.root", root),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
