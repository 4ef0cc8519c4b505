package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/meetingmind/internal/finalize"
	"github.com/mohammad-safakhou/meetingmind/internal/queue/streams"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultMaxAttempts bounds how often a failing job is requeued.
const DefaultMaxAttempts = 3

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	ListSegments(ctx context.Context, meetingID string) ([]models.Segment, error)
	ListActionItems(ctx context.Context, meetingID string) ([]models.ActionItem, error)
	SetFollowUpEmail(ctx context.Context, meetingID, body string) error
	UpdateSummary(ctx context.Context, meetingID string, status models.MeetingStatus, sum models.Summary, truncated bool) error
}

// Queue enqueues follow-on jobs, requeues failed ones and parks jobs that
// ran out of attempts.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
	Retry(ctx context.Context, env streams.Envelope) error
	DeadLetter(ctx context.Context, env streams.Envelope, cause error) error
}

// Options tune the processor loop.
type Options struct {
	Stream         string
	Block          time.Duration
	MinIdle        time.Duration
	MaxAttempts    int
	CharBudget     int
	SummaryTimeout time.Duration
}

// Processor consumes post-processing jobs: follow-up emails and summary
// regeneration. It registers no handler for CRM sync, so the consumer
// acknowledges those entries untouched for the CRM consumer group.
type Processor struct {
	logger   *log.Logger
	store    StoreAPI
	llm      provider.Provider
	queue    Queue
	consumer *streams.Consumer
	opts     Options
	tracer   trace.Tracer

	jobCounter     otelmetric.Int64Counter
	retryCounter   otelmetric.Int64Counter
	reclaimCounter otelmetric.Int64Counter
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, st StoreAPI, llm provider.Provider, q Queue, cons *streams.Consumer, opts Options, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.CharBudget <= 0 {
		opts.CharBudget = finalize.DefaultCharBudget
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 90 * time.Second
	}
	proc := &Processor{
		logger:   logger,
		store:    st,
		llm:      llm,
		queue:    q,
		consumer: cons,
		opts:     opts,
		tracer:   tracer,
	}
	if cons != nil {
		cons.Handle(models.JobGenerateFollowUp, proc.Handle)
		cons.Handle(models.JobRegenerateSummary, proc.Handle)
	}
	if meter != nil {
		var err error
		proc.jobCounter, err = meter.Int64Counter("worker_jobs_processed_total")
		if err != nil {
			logger.Printf("warn: create job counter failed: %v", err)
		}
		proc.retryCounter, err = meter.Int64Counter("worker_job_retries_total")
		if err != nil {
			logger.Printf("warn: create retry counter failed: %v", err)
		}
		proc.reclaimCounter, err = meter.Int64Counter("worker_jobs_reclaimed_total")
		if err != nil {
			logger.Printf("warn: create reclaim counter failed: %v", err)
		}
	}
	return proc
}

// Start blocks, processing jobs until the context is cancelled. Entries left
// pending by a crashed consumer are reclaimed every MinIdle.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return fmt.Errorf("consumer not configured")
	}
	p.logger.Printf("worker processor starting; consuming stream %s", p.opts.Stream)
	p.reclaim(ctx)
	lastReclaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		if time.Since(lastReclaim) >= p.opts.MinIdle {
			p.reclaim(ctx)
			lastReclaim = time.Now()
		}

		msgs, err := p.consumer.Read(ctx, streams.WithBlock(p.opts.Block), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		p.process(ctx, msgs)
	}
}

func (p *Processor) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(ctx, p.opts.MinIdle, start, 16)
		if err != nil {
			p.logger.Printf("warn: reclaim pending jobs: %v", err)
			return
		}
		if len(msgs) > 0 {
			p.logger.Printf("reclaimed %d pending jobs", len(msgs))
			if p.reclaimCounter != nil {
				p.reclaimCounter.Add(ctx, int64(len(msgs)))
			}
			p.process(ctx, msgs)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (p *Processor) process(ctx context.Context, msgs []streams.Message) {
	p.consumer.Deliver(ctx, msgs, func(msg streams.Message, err error) {
		p.logger.Printf("error handling job %s (%s): %v", msg.ID, msg.Envelope.EventType, err)
		p.retry(ctx, msg.Envelope, err)
	})
}

func (p *Processor) retry(ctx context.Context, env streams.Envelope, cause error) {
	if p.queue == nil {
		return
	}
	if env.Attempt+1 >= p.opts.MaxAttempts {
		p.logger.Printf("giving up on %s meeting=%s after %d attempts", env.EventType, env.MeetingID, env.Attempt+1)
		if err := p.queue.DeadLetter(ctx, env, cause); err != nil {
			p.logger.Printf("warn: dead letter %s: %v", env.EventType, err)
		}
		return
	}
	if err := p.queue.Retry(ctx, env); err != nil {
		p.logger.Printf("warn: requeue %s: %v", env.EventType, err)
		return
	}
	if p.retryCounter != nil {
		p.retryCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", env.EventType)))
	}
}

// Handle runs one job. Each event id is processed at most once.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) (err error) {
	ctx, span := p.tracer.Start(ctx, "worker.handle_job", trace.WithAttributes(
		attribute.String("job.type", msg.Envelope.EventType),
		attribute.String("meeting.id", msg.Envelope.MeetingID),
	))
	defer span.End()
	defer func() {
		if p.jobCounter != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			p.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("type", msg.Envelope.EventType),
				attribute.String("outcome", outcome),
			))
		}
	}()

	switch msg.Envelope.EventType {
	case models.JobGenerateFollowUp, models.JobRegenerateSummary:
	default:
		return fmt.Errorf("unsupported job type %q", msg.Envelope.EventType)
	}

	claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s, already processed", msg.Envelope.EventID)
		return nil
	}

	switch msg.Envelope.EventType {
	case models.JobGenerateFollowUp:
		var job models.FollowUpJob
		if err := msg.Envelope.Decode(&job); err != nil {
			return err
		}
		return p.generateFollowUp(ctx, job)
	default:
		var job models.RegenerateSummaryJob
		if err := msg.Envelope.Decode(&job); err != nil {
			return err
		}
		return p.RegenerateSummary(ctx, job.MeetingID)
	}
}

func (p *Processor) generateFollowUp(ctx context.Context, job models.FollowUpJob) error {
	items, err := p.store.ListActionItems(ctx, job.MeetingID)
	if err != nil {
		return fmt.Errorf("list action items: %w", err)
	}
	body, err := p.llm.Complete(ctx, provider.Request{Prompt: FollowUpPrompt(job.Summary, items)})
	if err != nil {
		return fmt.Errorf("follow-up llm: %w", err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("follow-up llm returned empty body")
	}
	if err := p.store.SetFollowUpEmail(ctx, job.MeetingID, body); err != nil {
		return fmt.Errorf("store follow-up: %w", err)
	}
	p.logger.Printf("meeting=%s follow-up email stored (%d chars)", job.MeetingID, len(body))
	return nil
}

// RegenerateSummary rebuilds a meeting summary from its stored segments,
// marks the meeting COMPLETED and enqueues the downstream jobs.
func (p *Processor) RegenerateSummary(ctx context.Context, meetingID string) error {
	if _, err := p.store.GetMeeting(ctx, meetingID); err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	segs, err := p.store.ListSegments(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	text, _, truncated := finalize.BuildTranscript(segs, p.opts.CharBudget)
	var sum models.Summary
	if text != "" {
		sctx, cancel := context.WithTimeout(ctx, p.opts.SummaryTimeout)
		sum, err = finalize.Summarize(sctx, p.llm, text)
		cancel()
		if err != nil {
			return err
		}
	}
	if err := p.store.UpdateSummary(ctx, meetingID, models.MeetingStatusCompleted, sum, truncated); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if p.queue != nil {
		res := models.MeetingResult{MeetingID: meetingID, Status: models.MeetingStatusCompleted, Summary: sum}
		for _, j := range finalize.Jobs(res) {
			if err := p.queue.Enqueue(ctx, j.Type, j.Payload); err != nil {
				p.logger.Printf("warn: meeting=%s enqueue %s: %v", meetingID, j.Type, err)
			}
		}
	}
	p.logger.Printf("meeting=%s summary regenerated from %d segments", meetingID, len(segs))
	return nil
}
