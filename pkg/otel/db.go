package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/phonehub/phonehub"

// ExecuteWithSpan runs a MongoDB operation inside a client span.
func ExecuteWithSpan(ctx context.Context, collection, operation string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, fmt.Sprintf("db.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMongoDB,
			semconv.DBOperationKey.String(operation),
			attribute.String("db.collection", collection),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ExecuteInsert wraps an insert with a DB span
func ExecuteInsert(ctx context.Context, collection string, fn func(ctx context.Context) error) error {
	return ExecuteWithSpan(ctx, collection, "insert", fn)
}

// ExecuteUpdate wraps an update with a DB span
func ExecuteUpdate(ctx context.Context, collection string, fn func(ctx context.Context) error) error {
	return ExecuteWithSpan(ctx, collection, "update", fn)
}

// ExecuteSelect wraps a find with a DB span
func ExecuteSelect(ctx context.Context, collection string, fn func(ctx context.Context) error) error {
	return ExecuteWithSpan(ctx, collection, "find", fn)
}
