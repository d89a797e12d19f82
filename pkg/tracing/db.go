package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpanConfig describes a database call.
type DBSpanConfig struct {
	Operation string
	Table     string
}

// StartDBSpan starts a client span for a database call. Callers still end
// the span themselves.
func StartDBSpan(ctx context.Context, cfg DBSpanConfig) (context.Context, trace.Span) {
	return StartSpanWithKind(ctx, "db."+cfg.Operation+" "+cfg.Table, trace.SpanKindClient,
		semconv.DBSystemPostgreSQL,
		semconv.DBOperationKey.String(cfg.Operation),
		semconv.DBSQLTableKey.String(cfg.Table))
}

// EndDBSpan records the outcome of a database call. rows < 0 means unknown.
func EndDBSpan(span trace.Span, err error, rows int64) {
	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartSpanWithKind starts a span of the given kind on the service tracer.
func StartSpanWithKind(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}
