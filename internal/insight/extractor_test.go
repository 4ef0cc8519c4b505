package insight

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"github.com/mohammad-safakhou/meetingmind/session"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *fakePublisher) Publish(meetingID string, ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type fakeStore struct {
	items []models.ActionItem
	err   error
}

func (s *fakeStore) InsertActionItems(ctx context.Context, items []models.ActionItem) error {
	s.items = append(s.items, items...)
	return s.err
}

type fakeSink struct {
	open  bool
	added []models.Insights
}

func (s *fakeSink) EmitInsights(ins models.Insights, emit func()) bool {
	if !s.open {
		return false
	}
	s.added = append(s.added, ins)
	emit()
	return true
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func window(texts ...string) []models.Segment {
	out := make([]models.Segment, len(texts))
	for i, t := range texts {
		out[i] = models.Segment{ID: t, MeetingID: "m1", Text: t, Speaker: "Speaker 1", IsFinal: true}
	}
	return out
}

func TestBuildPromptJoinsWindowInOrder(t *testing.T) {
	p := BuildPrompt(window("Let's ship v2 by Friday", "I'll own that", "Sounds good"))
	if !strings.Contains(p, `Text: "Let's ship v2 by Friday I'll own that Sounds good"`) {
		t.Fatalf("window text not embedded in order: %s", p)
	}
	if !strings.Contains(p, `"actionItems"`) {
		t.Fatalf("prompt missing response shape")
	}
}

func TestRunPublishesAndPersistsPending(t *testing.T) {
	var got provider.Request
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		got = req
		return "```json\n" + `{"actionItems":[{"task":"Ship v2","owner":"Ana","deadline":"2026-03-06"},{"task":"Update docs","owner":"Bo","deadline":"whenever"},{"task":"  ","owner":"x"}],"decisions":["Ship on Friday"],"topics":["release"]}` + "\n```", nil
	})
	pub := &fakePublisher{}
	st := &fakeStore{}
	sink := &fakeSink{open: true}
	ex := NewExtractor(llm, pub, st, time.Second, quietLogger())

	ex.Run(context.Background(), sink, "m1", window("Let's ship v2 by Friday", "I'll own that"))

	if !got.JSON {
		t.Fatalf("expected JSON mode request")
	}
	if len(pub.events) != 1 || pub.events[0].Type != models.EventInsights {
		t.Fatalf("expected one INSIGHTS event, got %+v", pub.events)
	}
	ins := pub.events[0].Data.(models.Insights)
	if len(ins.ActionItems) != 2 || ins.Decisions[0] != "Ship on Friday" || ins.Topics[0] != "release" {
		t.Fatalf("unexpected insights %+v", ins)
	}
	if len(st.items) != 2 {
		t.Fatalf("expected 2 persisted items, got %d", len(st.items))
	}
	for _, it := range st.items {
		if it.Status != models.ActionItemStatusPending || it.MeetingID != "m1" {
			t.Fatalf("unexpected item %+v", it)
		}
	}
	if st.items[0].Deadline == nil || st.items[0].Deadline.Format("2006-01-02") != "2026-03-06" {
		t.Fatalf("expected parsed deadline, got %v", st.items[0].Deadline)
	}
	if st.items[1].Deadline != nil {
		t.Fatalf("unparseable deadline should be absent, got %v", st.items[1].Deadline)
	}
	if len(sink.added) != 1 {
		t.Fatalf("expected batch recorded on session")
	}
}

func TestRunSwallowsFailures(t *testing.T) {
	cases := map[string]provider.Func{
		"provider error": func(ctx context.Context, req provider.Request) (string, error) {
			return "", errors.New("rate limited")
		},
		"malformed": func(ctx context.Context, req provider.Request) (string, error) {
			return "not json at all", nil
		},
		"timeout": func(ctx context.Context, req provider.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	for name, llm := range cases {
		t.Run(name, func(t *testing.T) {
			pub := &fakePublisher{}
			st := &fakeStore{}
			ex := NewExtractor(llm, pub, st, 20*time.Millisecond, quietLogger())
			ex.Run(context.Background(), &fakeSink{open: true}, "m1", window("a", "b"))
			if len(pub.events) != 0 || len(st.items) != 0 {
				t.Fatalf("failure must emit nothing: events=%d items=%d", len(pub.events), len(st.items))
			}
		})
	}
}

func TestRunDiscardsWhenSessionClosed(t *testing.T) {
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return `{"actionItems":[{"task":"t","owner":"o"}],"decisions":[],"topics":[]}`, nil
	})
	pub := &fakePublisher{}
	st := &fakeStore{}
	ex := NewExtractor(llm, pub, st, time.Second, quietLogger())
	ex.Run(context.Background(), &fakeSink{open: false}, "m1", window("a"))
	if len(pub.events) != 0 || len(st.items) != 0 {
		t.Fatalf("closed session must discard results")
	}
}

func TestRunStoreFailureIsLogged(t *testing.T) {
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return `{"actionItems":[{"task":"t","owner":"o"}]}`, nil
	})
	pub := &fakePublisher{}
	ex := NewExtractor(llm, pub, &fakeStore{err: errors.New("db down")}, time.Second, quietLogger())
	ex.Run(context.Background(), &fakeSink{open: true}, "m1", window("a"))
	if len(pub.events) != 1 {
		t.Fatalf("broadcast should still happen on store failure")
	}
}

func TestParseDeadline(t *testing.T) {
	if ParseDeadline("") != nil || ParseDeadline("next sprint") != nil {
		t.Fatalf("expected nil for empty or unparseable")
	}
	d := ParseDeadline("2026-10-30T17:00:00Z")
	if d == nil || d.Hour() != 17 {
		t.Fatalf("unexpected %v", d)
	}
}

// gatedPublisher blocks the first publish until released and counts
// publishes that observe a closed session.
type gatedPublisher struct {
	sess    *session.Session
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	count int
	late  int
}

func (p *gatedPublisher) Publish(meetingID string, ev models.Event) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.sess.State() == session.StateClosed {
		p.late++
	}
}

type stateStore struct {
	sess   *session.Session
	mu     sync.Mutex
	writes int
	late   int
}

func (s *stateStore) InsertActionItems(ctx context.Context, items []models.ActionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.sess.State() == session.StateClosed {
		s.late++
	}
	return nil
}

func TestRunNeverEmitsAfterSessionClosed(t *testing.T) {
	sess, err := session.NewRegistry(5).Open("m1")
	if err != nil {
		t.Fatal(err)
	}
	llm := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return `{"actionItems":[{"task":"Ship v2","owner":"Ana"}],"decisions":[],"topics":["release"]}`, nil
	})
	pub := &gatedPublisher{sess: sess, entered: make(chan struct{}), release: make(chan struct{})}
	st := &stateStore{sess: sess}
	ex := NewExtractor(llm, pub, st, time.Second, quietLogger())

	ran := make(chan struct{})
	go func() {
		ex.Run(context.Background(), sess, "m1", window("a", "b"))
		close(ran)
	}()
	<-pub.entered
	_ = sess.BeginFinalizing()
	closed := make(chan struct{})
	go func() {
		sess.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(pub.release)
	<-ran
	<-closed

	ex.Run(context.Background(), sess, "m1", window("c", "d"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()
	if pub.late != 0 || st.late != 0 {
		t.Fatalf("emitted after CLOSED: publishes=%d writes=%d", pub.late, st.late)
	}
	if pub.count != 1 || st.writes != 1 {
		t.Fatalf("expected only the in-flight batch, got publishes=%d writes=%d", pub.count, st.writes)
	}
}
