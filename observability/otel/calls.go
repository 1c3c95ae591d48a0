package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Calls records protocol calls as spans and OTLP instruments.
type Calls struct {
	tracer   trace.Tracer
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewCalls builds the instruments from the global providers. Init must run
// first for them to export anywhere.
func NewCalls() (*Calls, error) {
	meter := otel.Meter(InstrumentationName)
	count, err := meter.Int64Counter("lendpool.protocol.calls",
		metric.WithDescription("Protocol calls by pool, operation and outcome."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("lendpool.protocol.call.duration",
		metric.WithDescription("Protocol call latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Calls{
		tracer:   otel.Tracer(InstrumentationName),
		count:    count,
		duration: duration,
	}, nil
}

// Start opens a span for operation on pool. The returned function ends it and
// records the outcome.
func (c *Calls) Start(ctx context.Context, poolID, operation string) (context.Context, func(error)) {
	if c == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("lendpool.pool", poolID),
		attribute.String("lendpool.operation", operation),
	}
	ctx, span := c.tracer.Start(ctx, "protocol."+operation, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
		}
		all := append(attrs, attribute.String("lendpool.outcome", outcome))
		c.count.Add(ctx, 1, metric.WithAttributes(all...))
		c.duration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attrs...))
		span.End()
	}
}
