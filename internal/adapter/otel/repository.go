package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

const tracerName = "github.com/neomorfeo/provisioniq/internal/adapter/otel"

// TracingRepository wraps a domain.InstanceRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors.
type TracingRepository struct {
	next   domain.InstanceRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.InstanceRepository.
var _ domain.InstanceRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.InstanceRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, inst domain.Instance) error {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.Create",
		trace.WithAttributes(
			attribute.String("instance.id", inst.ID),
			attribute.String("instance.slug", inst.Slug),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, inst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Instance, error) {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.GetByID",
		trace.WithAttributes(attribute.String("instance.id", id)),
	)
	defer span.End()

	inst, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inst, err
}

func (r *TracingRepository) GetBySlug(ctx context.Context, slug string) (domain.Instance, error) {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.GetBySlug",
		trace.WithAttributes(attribute.String("instance.slug", slug)),
	)
	defer span.End()

	inst, err := r.next.GetBySlug(ctx, slug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inst, err
}

func (r *TracingRepository) GetByRequestID(ctx context.Context, requestID string) (domain.Instance, error) {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.GetByRequestID",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	inst, err := r.next.GetByRequestID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inst, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Instance, error) {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	instances, err := r.next.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(instances)))
	}
	return instances, err
}

func (r *TracingRepository) Update(ctx context.Context, inst domain.Instance) error {
	ctx, span := r.tracer.Start(ctx, "InstanceRepository.Update",
		trace.WithAttributes(
			attribute.String("instance.id", inst.ID),
			attribute.String("instance.status", string(inst.Status)),
			attribute.String("instance.stage", string(inst.Stage)),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, inst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
