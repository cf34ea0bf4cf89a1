package middleware

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/job"
)

const tracerName = "github.com/xraph/bpmcore"

// Tracing wraps each job run in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each job run in a "bpmcore.job.execute" span.
//
// A failed run records the error and sets codes.Error. A run turned away
// because its instance is busy only adds an "instance busy" event and
// leaves the status unset.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("bpmcore.job.id", j.ID.String()),
			attribute.String("bpmcore.job.name", j.Name),
			attribute.Int("bpmcore.job.retries", j.Retries),
		}
		if !j.ExecutionID.IsNil() {
			attrs = append(attrs, attribute.String("bpmcore.execution.id", j.ExecutionID.String()))
		}
		if !j.InstanceID.IsNil() {
			attrs = append(attrs, attribute.String("bpmcore.instance.id", j.InstanceID.String()))
		}

		ctx, span := tracer.Start(ctx, "bpmcore.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, bpmcore.ErrExecutionBusy):
			span.AddEvent("instance busy")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
