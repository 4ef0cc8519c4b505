package worker

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/internal/queue/streams"
	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/internal/store"
	"github.com/mohammad-safakhou/meetingmind/provider"
)

// Run consumes the post-processing stream until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	tele, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "meetingmind-worker"})
	if err != nil {
		return err
	}
	defer func() { _ = tele.Shutdown(context.Background()) }()

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("worker store: %w", err)
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("worker redis ping: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	qc := cfg.Queue.Normalize()
	if err := streams.EnsureGroup(ctx, rdb, qc.Stream, qc.Group); err != nil {
		return fmt.Errorf("worker ensure group: %w", err)
	}
	if err := streams.RegisterLagGauges(rdb, qc.Stream, qc.Group); err != nil {
		logger.Printf("lag gauges: %v", err)
	}
	registry, err := streams.NewJobRegistry()
	if err != nil {
		return err
	}
	jobs, err := streams.NewJobQueue(rdb, qc)
	if err != nil {
		return err
	}
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	consumer := streams.NewConsumer(rdb, registry, qc.Stream, qc.Group, qc.Consumer)
	processor := NewProcessor(logger, st, llm, jobs, consumer, Options{
		Stream:         qc.Stream,
		Block:          qc.Block,
		MinIdle:        qc.MinIdle,
		CharBudget:     cfg.Pipeline.SummaryCharBudget,
		SummaryTimeout: cfg.Pipeline.SummaryTimeout,
	}, meter, tracer)
	logger.Printf("consuming %s as %s/%s", qc.Stream, qc.Group, qc.Consumer)
	return processor.Start(ctx)
}
