// Package storage holds what the PostgreSQL stores share: span helpers,
// error classification, migrations and an integration test harness.
package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// DefaultDBAttributes are set on every store span.
var DefaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// ExecuteAndTrace runs operation inside a client span named spanName,
// recording its error on the span.
func ExecuteAndTrace(
	ctx context.Context,
	tracer trace.Tracer,
	spanName string,
	attributes []attribute.KeyValue,
	operation func(ctx context.Context) error,
) error {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attributes...),
	)
	defer span.End()

	if err := operation(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Attributes returns DefaultDBAttributes followed by extra in a new slice.
func Attributes(extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(DefaultDBAttributes)+len(extra))
	attrs = append(attrs, DefaultDBAttributes...)
	return append(attrs, extra...)
}

// ClassifyError marks err transient when a retry may succeed, such as lost
// connections, serialization failures, deadlocks or an admin shutdown.
// Other errors pass through unchanged.
func ClassifyError(op string, err error) error {
	if err == nil || !isRetryable(err) {
		return err
	}
	return schedule.NewTransientError(op, err)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgerrcode.IsTransactionRollback(pgErr.Code),
		pgerrcode.IsInsufficientResources(pgErr.Code),
		pgerrcode.IsOperatorIntervention(pgErr.Code):
		return true
	}
	return false
}
