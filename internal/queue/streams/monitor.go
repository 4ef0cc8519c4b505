package streams

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// LagMetrics captures queue lag and pending state for a consumer group.
type LagMetrics struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// GroupLag returns lag metrics for the provided stream/group.
func GroupLag(ctx context.Context, client *redis.Client, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, fmt.Errorf("redis client is nil")
	}
	if stream == "" {
		return LagMetrics{}, fmt.Errorf("stream is required")
	}
	if group == "" {
		return LagMetrics{}, fmt.Errorf("group is required")
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	metrics := LagMetrics{Lag: -1}
	for _, info := range groups {
		if info.Name != group {
			continue
		}
		metrics.Pending = info.Pending
		metrics.Lag = info.Lag
		metrics.Consumers = int64(info.Consumers)
		break
	}

	if metrics.Pending > 0 {
		entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  1,
		}).Result()
		if err != nil && err != redis.Nil {
			return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
		}
		if len(entries) > 0 {
			metrics.OldestIdle = entries[0].Idle
		}
	}

	return metrics, nil
}

// RegisterLagGauges exports pending and lag counts for stream/group as
// observable gauges read on each metrics collection.
func RegisterLagGauges(client *redis.Client, stream, group string) error {
	meter := otel.Meter("meetingmind/queue/streams")
	pending, err := meter.Int64ObservableGauge("jobs_pending", otelmetric.WithDescription("Entries delivered but not yet acknowledged"))
	if err != nil {
		return err
	}
	lag, err := meter.Int64ObservableGauge("jobs_lag", otelmetric.WithDescription("Entries not yet delivered to the group"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o otelmetric.Observer) error {
		m, err := GroupLag(ctx, client, stream, group)
		if err != nil {
			log.Printf("queue lag: %v", err)
			return nil
		}
		o.ObserveInt64(pending, m.Pending)
		o.ObserveInt64(lag, m.Lag)
		return nil
	}, pending, lag)
	return err
}
