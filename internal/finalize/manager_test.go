package finalize

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"github.com/mohammad-safakhou/meetingmind/session"
)

type recordingStore struct {
	mu      sync.Mutex
	results []models.MeetingResult
	err     error
}

func (s *recordingStore) CompleteMeeting(ctx context.Context, res models.MeetingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return s.err
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, Job{Type: jobType, Payload: payload})
	return nil
}

const summaryResponse = "Executive summary\nShip v2 Friday.\n\nKey discussion points\n- release\n\nDecisions made\n- ship it\n"

func openWithSegments(t *testing.T, reg *session.Registry, id string, texts ...string) *session.Session {
	t.Helper()
	sess, err := reg.Open(id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i, txt := range texts {
		if _, _, err := sess.Append(models.Segment{ID: txt, MeetingID: id, Text: txt, Speaker: "Speaker 1", IsFinal: true}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return sess
}

func newTestManager(reg *session.Registry, llm provider.Provider, st *recordingStore, q *recordingQueue, opts Options) *Manager {
	return NewManager(reg, llm, st, q, opts, log.New(io.Discard, "", 0))
}

func TestFinalizeSuccessEnqueuesTwoJobs(t *testing.T) {
	reg := session.NewRegistry(5)
	sess := openWithSegments(t, reg, "m1", "Let's ship v2 by Friday", "I'll own that")
	var prompt string
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		prompt = req.Prompt
		return summaryResponse, nil
	})
	st, q := &recordingStore{}, &recordingQueue{}
	m := newTestManager(reg, llm, st, q, Options{})

	res, err := m.Finalize(context.Background(), "m1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Status != models.MeetingStatusCompleted || res.Summary.ExecutiveSummary != "Ship v2 Friday." {
		t.Fatalf("unexpected result %+v", res)
	}
	if prompt == "" || res.SegmentCount != 2 || res.SummaryTruncated {
		t.Fatalf("unexpected prompt/metadata: %+v", res)
	}
	if res.EndedAt.IsZero() || res.Duration < 0 {
		t.Fatalf("missing end time or duration: %+v", res)
	}
	if len(st.results) != 1 {
		t.Fatalf("expected one persisted result")
	}
	if len(q.jobs) != 2 || q.jobs[0].Type != models.JobGenerateFollowUp || q.jobs[1].Type != models.JobCRMSync {
		t.Fatalf("unexpected jobs %+v", q.jobs)
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("session should be CLOSED, got %s", sess.State())
	}
	if _, err := reg.Get("m1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be deregistered, got %v", err)
	}
	if _, err := reg.Open("m1"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestFinalizeSummaryFailureClosesWithRetryJob(t *testing.T) {
	for name, llm := range map[string]provider.Func{
		"error": func(ctx context.Context, req provider.Request) (string, error) {
			return "", errors.New("provider unavailable")
		},
		"timeout": func(ctx context.Context, req provider.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	} {
		t.Run(name, func(t *testing.T) {
			reg := session.NewRegistry(5)
			sess := openWithSegments(t, reg, "m2", "hello")
			st, q := &recordingStore{}, &recordingQueue{}
			m := newTestManager(reg, llm, st, q, Options{SummaryTimeout: 20 * time.Millisecond})

			res, err := m.Finalize(context.Background(), "m2")
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if res.Status != models.MeetingStatusFailedSummary {
				t.Fatalf("expected FAILED_SUMMARY, got %s", res.Status)
			}
			if len(q.jobs) != 1 || q.jobs[0].Type != models.JobRegenerateSummary {
				t.Fatalf("expected only the retry job, got %+v", q.jobs)
			}
			if sess.State() != session.StateClosed {
				t.Fatalf("session stuck in %s", sess.State())
			}
		})
	}
}

func TestFinalizeEmptyTranscriptSkipsModel(t *testing.T) {
	reg := session.NewRegistry(5)
	openWithSegments(t, reg, "m3")
	called := false
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		called = true
		return "", nil
	})
	st, q := &recordingStore{}, &recordingQueue{}
	res, err := newTestManager(reg, llm, st, q, Options{}).Finalize(context.Background(), "m3")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if called || res.Status != models.MeetingStatusCompleted || len(q.jobs) != 2 {
		t.Fatalf("unexpected outcome called=%v res=%+v jobs=%d", called, res, len(q.jobs))
	}
}

func TestFinalizeStoreFailureStillCloses(t *testing.T) {
	reg := session.NewRegistry(5)
	sess := openWithSegments(t, reg, "m4", "a")
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) { return summaryResponse, nil })
	st, q := &recordingStore{err: errors.New("db down")}, &recordingQueue{}
	if _, err := newTestManager(reg, llm, st, q, Options{}).Finalize(context.Background(), "m4"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if sess.State() != session.StateClosed || len(q.jobs) != 2 {
		t.Fatalf("store failure must not block close or hand-off")
	}
}

func TestFinalizeWaitsForInFlightExtraction(t *testing.T) {
	reg := session.NewRegistry(5)
	sess := openWithSegments(t, reg, "m5", "a")
	ectx, done, ok := sess.BeginExtraction()
	if !ok {
		t.Fatalf("extraction should start while streaming")
	}
	released := make(chan struct{})
	go func() {
		<-ectx.Done()
		close(released)
		done()
	}()
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) { return summaryResponse, nil })
	st, q := &recordingStore{}, &recordingQueue{}
	m := newTestManager(reg, llm, st, q, Options{Grace: 30 * time.Millisecond})
	if _, err := m.Finalize(context.Background(), "m5"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatalf("in-flight extraction was not cancelled after grace")
	}
	if sess.AddInsights(models.Insights{Topics: []string{"late"}}) {
		t.Fatalf("late insights must be discarded once CLOSED")
	}
}

func TestFinalizeUnknownMeeting(t *testing.T) {
	m := newTestManager(session.NewRegistry(5), nil, &recordingStore{}, &recordingQueue{}, Options{})
	if _, err := m.Finalize(context.Background(), "nope"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
