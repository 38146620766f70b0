package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// TracingEnqueuer wraps a domain.ProvisionEnqueuer with OpenTelemetry tracing.
type TracingEnqueuer struct {
	next   domain.ProvisionEnqueuer
	tracer trace.Tracer
}

// Compile-time check: TracingEnqueuer implements domain.ProvisionEnqueuer.
var _ domain.ProvisionEnqueuer = (*TracingEnqueuer)(nil)

// NewTracingEnqueuer creates a tracing decorator around the given enqueuer.
func NewTracingEnqueuer(next domain.ProvisionEnqueuer) *TracingEnqueuer {
	return &TracingEnqueuer{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (e *TracingEnqueuer) Enqueue(ctx context.Context, instanceID string, intake domain.Intake) error {
	ctx, span := e.tracer.Start(ctx, "ProvisionEnqueuer.Enqueue",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.String("request.id", intake.RequestID),
			attribute.String("instance.plan", intake.Plan),
		),
	)
	defer span.End()

	err := e.next.Enqueue(ctx, instanceID, intake)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
