package finalize

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"github.com/mohammad-safakhou/meetingmind/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// MeetingWriter persists the finalized meeting record.
type MeetingWriter interface {
	CompleteMeeting(ctx context.Context, res models.MeetingResult) error
}

// Enqueuer hands post-processing jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
}

// Options bound the finalization steps.
type Options struct {
	CharBudget     int
	SummaryTimeout time.Duration
	// Grace is how long in-flight insight extraction may run before it is cancelled.
	Grace time.Duration
}

var (
	metricsOnce     sync.Once
	finalizeCounter otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("meetingmind/finalize")
	var err error
	if finalizeCounter, err = meter.Int64Counter("finalizations_total"); err != nil {
		log.Printf("finalize metrics init: finalizations_total: %v", err)
	}
}

// Manager closes sessions: summary, persistence, downstream jobs, teardown.
type Manager struct {
	registry *session.Registry
	llm      provider.Provider
	store    MeetingWriter
	jobs     Enqueuer
	opts     Options
	now      func() time.Time
	logger   *log.Logger
}

// NewManager wires a finalization manager.
func NewManager(reg *session.Registry, llm provider.Provider, store MeetingWriter, jobs Enqueuer, opts Options, logger *log.Logger) *Manager {
	metricsOnce.Do(initMetrics)
	if opts.CharBudget <= 0 {
		opts.CharBudget = DefaultCharBudget
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 90 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[FINALIZE] ", log.LstdFlags)
	}
	return &Manager{registry: reg, llm: llm, store: store, jobs: jobs, opts: opts, now: time.Now, logger: logger}
}

// Finalize moves the session to FINALIZING, waits for in-flight extraction,
// summarizes, persists and enqueues follow-up work. The session always ends
// CLOSED and deregistered, whatever the summary outcome.
func (m *Manager) Finalize(ctx context.Context, meetingID string) (models.MeetingResult, error) {
	sess, err := m.registry.Get(meetingID)
	if err != nil {
		return models.MeetingResult{}, err
	}
	if err := sess.BeginFinalizing(); err != nil {
		return models.MeetingResult{}, fmt.Errorf("finalize %s: %w", meetingID, err)
	}
	defer func() {
		sess.Close()
		m.registry.Close(meetingID)
	}()

	if !sess.WaitExtractions(ctx, m.opts.Grace) {
		m.logger.Printf("meeting=%s insight extraction still running after %s, cancelled", meetingID, m.opts.Grace)
	}

	segs := sess.Segments()
	text, total, truncated := BuildTranscript(segs, m.opts.CharBudget)
	res := models.MeetingResult{
		MeetingID:        meetingID,
		Status:           models.MeetingStatusCompleted,
		SegmentCount:     len(segs),
		TranscriptChars:  total,
		SummaryTruncated: truncated,
	}
	if truncated {
		m.logger.Printf("meeting=%s transcript truncated to %d of %d chars", meetingID, m.opts.CharBudget, total)
	}

	var summaryErr error
	if text != "" {
		sctx, cancel := context.WithTimeout(ctx, m.opts.SummaryTimeout)
		res.Summary, summaryErr = Summarize(sctx, m.llm, text)
		cancel()
		if summaryErr != nil {
			res.Status = models.MeetingStatusFailedSummary
			m.logger.Printf("meeting=%s summary failed: %v", meetingID, summaryErr)
		}
	}

	res.EndedAt = m.now().UTC()
	res.Duration = res.EndedAt.Sub(sess.CreatedAt)
	if res.Duration < 0 {
		res.Duration = 0
	}

	if m.store != nil {
		if err := m.store.CompleteMeeting(ctx, res); err != nil {
			m.logger.Printf("meeting=%s persist result: %v", meetingID, err)
		}
	}
	m.enqueue(ctx, res)

	if finalizeCounter != nil {
		finalizeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(res.Status))))
	}
	m.logger.Printf("meeting=%s finalized status=%s segments=%d duration=%s", meetingID, res.Status, res.SegmentCount, res.Duration.Round(time.Second))
	return res, nil
}

// Job is one queued post-processing request.
type Job struct {
	Type    string
	Payload interface{}
}

// Jobs lists the downstream work for a finalized meeting: follow-up and CRM
// sync on success, a summary retry when the summary failed.
func Jobs(res models.MeetingResult) []Job {
	if res.Status == models.MeetingStatusFailedSummary {
		return []Job{{
			Type:    models.JobRegenerateSummary,
			Payload: models.RegenerateSummaryJob{MeetingID: res.MeetingID, Reason: "summary generation failed"},
		}}
	}
	return []Job{
		{Type: models.JobGenerateFollowUp, Payload: models.FollowUpJob{MeetingID: res.MeetingID, Summary: res.Summary}},
		{Type: models.JobCRMSync, Payload: models.CRMSyncJob{MeetingID: res.MeetingID}},
	}
}

func (m *Manager) enqueue(ctx context.Context, res models.MeetingResult) {
	if m.jobs == nil {
		return
	}
	for _, j := range Jobs(res) {
		if err := m.jobs.Enqueue(ctx, j.Type, j.Payload); err != nil {
			m.logger.Printf("meeting=%s enqueue %s: %v", res.MeetingID, j.Type, err)
		}
	}
}
