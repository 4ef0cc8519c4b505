package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	jobsPublished     otelmetric.Int64Counter
	jobsRejected      otelmetric.Int64Counter
	jobsDelivered     otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("meetingmind/queue/streams")
	var err error
	jobsPublished, err = meter.Int64Counter(
		"jobs_published_total",
		otelmetric.WithDescription("Post-processing jobs appended to the stream"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: jobs_published_total: %v", err)
	}
	jobsRejected, err = meter.Int64Counter(
		"jobs_rejected_total",
		otelmetric.WithDescription("Stream entries dropped as undecodable or schema-invalid"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: jobs_rejected_total: %v", err)
	}
	jobsDelivered, err = meter.Int64Counter(
		"jobs_delivered_total",
		otelmetric.WithDescription("Jobs handed to consumers, including reclaimed entries"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: jobs_delivered_total: %v", err)
	}
}

func recordPublished(ctx context.Context, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if jobsPublished != nil {
		jobsPublished.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(attribute.String("type", eventType)))
	}
}

func recordRejected(ctx context.Context, eventType, reason string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if jobsRejected != nil {
		jobsRejected.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
			attribute.String("type", eventType),
			attribute.String("reason", reason),
		))
	}
}

func recordDelivered(ctx context.Context, eventType string, reclaimed bool) {
	streamMetricsOnce.Do(initStreamMetrics)
	if jobsDelivered != nil {
		jobsDelivered.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
			attribute.String("type", eventType),
			attribute.Bool("reclaimed", reclaimed),
		))
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
