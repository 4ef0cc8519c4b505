package insight

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Publisher receives INSIGHTS events for live subscribers.
type Publisher interface {
	Publish(meetingID string, ev models.Event)
}

// ActionItemWriter persists extracted action items.
type ActionItemWriter interface {
	InsertActionItems(ctx context.Context, items []models.ActionItem) error
}

// Sink accepts a batch for a session. emit runs while the session is held
// open; false means the session was closed and emit was not called.
type Sink interface {
	EmitInsights(ins models.Insights, emit func()) bool
}

var (
	metricsOnce  sync.Once
	batchCounter otelmetric.Int64Counter
	batchLatency otelmetric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("meetingmind/insight")
	var err error
	if batchCounter, err = meter.Int64Counter("insight_batches_total"); err != nil {
		log.Printf("insight metrics init: insight_batches_total: %v", err)
	}
	if batchLatency, err = meter.Float64Histogram("insight_extraction_seconds"); err != nil {
		log.Printf("insight metrics init: insight_extraction_seconds: %v", err)
	}
}

// Extractor turns a window of finalized segments into structured insights.
type Extractor struct {
	llm     provider.Provider
	pub     Publisher
	store   ActionItemWriter
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
}

// NewExtractor wires an extractor. store may be nil when persistence is disabled.
func NewExtractor(llm provider.Provider, pub Publisher, store ActionItemWriter, timeout time.Duration, logger *log.Logger) *Extractor {
	metricsOnce.Do(initMetrics)
	if logger == nil {
		logger = log.New(log.Writer(), "[INSIGHT] ", log.LstdFlags)
	}
	return &Extractor{
		llm:     llm,
		pub:     pub,
		store:   store,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Extract performs the model call for one window and parses the result.
func (e *Extractor) Extract(ctx context.Context, window []models.Segment) (models.Insights, error) {
	if len(window) == 0 {
		return models.Insights{}, fmt.Errorf("empty window")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	raw, err := e.llm.Complete(ctx, provider.Request{
		System: systemPrompt,
		Prompt: BuildPrompt(window),
		JSON:   true,
	})
	if err != nil {
		return models.Insights{}, fmt.Errorf("llm: %w", err)
	}
	return ParseResponse(raw)
}

// Run extracts, emits and persists one batch. Failures are logged and
// swallowed. Results are dropped when sink reports the session closed.
func (e *Extractor) Run(ctx context.Context, sink Sink, meetingID string, window []models.Segment) {
	start := e.now()
	ins, err := e.Extract(ctx, window)
	e.observe(ctx, start, outcome(err))
	if err != nil {
		e.logger.Printf("meeting=%s extraction failed: %v", meetingID, err)
		return
	}
	emitted := sink.EmitInsights(ins, func() {
		if e.pub != nil {
			e.pub.Publish(meetingID, models.Event{Type: models.EventInsights, Data: ins})
		}
		items := ActionItems(meetingID, ins, e.now())
		if len(items) == 0 || e.store == nil {
			return
		}
		if err := e.store.InsertActionItems(ctx, items); err != nil {
			e.logger.Printf("meeting=%s persist action items: %v", meetingID, err)
		}
	})
	if !emitted {
		e.logger.Printf("meeting=%s session closed, discarding insight batch", meetingID)
	}
}

// ActionItems maps extracted items to PENDING records.
func ActionItems(meetingID string, ins models.Insights, now time.Time) []models.ActionItem {
	if len(ins.ActionItems) == 0 {
		return nil
	}
	out := make([]models.ActionItem, 0, len(ins.ActionItems))
	for _, it := range ins.ActionItems {
		out = append(out, models.ActionItem{
			MeetingID: meetingID,
			Task:      it.Task,
			Owner:     it.Owner,
			Deadline:  ParseDeadline(it.Deadline),
			Status:    models.ActionItemStatusPending,
			CreatedAt: now.UTC(),
		})
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (e *Extractor) observe(ctx context.Context, start time.Time, result string) {
	attrs := otelmetric.WithAttributes(attribute.String("outcome", result))
	if batchCounter != nil {
		batchCounter.Add(ctx, 1, attrs)
	}
	if batchLatency != nil {
		batchLatency.Record(ctx, e.now().Sub(start).Seconds(), attrs)
	}
}
