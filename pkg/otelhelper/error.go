package otelhelper

import (
	"errors"

	"github.com/sovereignrag/process/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ErrorKindKey = "process.error.kind"

// SetError marks the span failed and tags it with the kind of store error,
// if any. A nil error leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(ErrorKindKey, errorKind(err)))
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, persistence.ErrProcessNotFound):
		return "process_not_found"
	case errors.Is(err, persistence.ErrRequestNotFound):
		return "request_not_found"
	case errors.Is(err, persistence.ErrDuplicatePendingProcess):
		return "duplicate_pending_process"
	default:
		return "internal"
	}
}
