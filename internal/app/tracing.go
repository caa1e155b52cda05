package app

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits spans through the global provider; it is a no-op unless the
// binary installs an SDK provider.
var tracer = otel.Tracer("github.com/haukened/fleeting/internal/app")

// finish records err on span (if any) and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
