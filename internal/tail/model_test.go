package tail

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohammad-safakhou/meetingmind/models"
)

type stubSource struct{ closed bool }

func (s *stubSource) Next() (Event, error) { return Event{}, errors.New("eof") }
func (s *stubSource) Close() error        { s.closed = true; return nil }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestTranscriptEventsReplacePartial(t *testing.T) {
	m := New("m1", nil)
	m, _ = update(t, m, connectedMsg{src: &stubSource{}})
	m, _ = update(t, m, eventMsg{Event{Type: models.EventTranscript, Segment: models.Segment{Text: "hel", Speaker: "Speaker 1"}}})
	if m.partial.Text != "hel" || len(m.lines) != 0 {
		t.Fatalf("partial = %q lines = %d", m.partial.Text, len(m.lines))
	}
	m, cmd := update(t, m, eventMsg{Event{Type: models.EventTranscript, Segment: models.Segment{Text: "hello", Speaker: "Speaker 1", IsFinal: true}}})
	if m.partial.Text != "" || len(m.lines) != 1 {
		t.Fatalf("partial = %q lines = %d", m.partial.Text, len(m.lines))
	}
	if cmd == nil {
		t.Fatal("expected the next read to be scheduled")
	}
	if v := m.View(); !strings.Contains(v, "hello") || !strings.Contains(v, "Speaker 1:") {
		t.Fatalf("view missing transcript:\n%s", v)
	}
}

func TestInsightsAreCapped(t *testing.T) {
	m := New("m1", nil)
	for i := 0; i < 5; i++ {
		m.apply(Event{Type: models.EventInsights, Insights: models.Insights{
			ActionItems: []models.InsightActionItem{{Task: "a"}, {Task: "b"}},
			Decisions:   []string{"d"},
		}})
	}
	if len(m.actionItems) != maxInsightLines {
		t.Fatalf("action items = %d", len(m.actionItems))
	}
	if len(m.decisions) != 5 {
		t.Fatalf("decisions = %d", len(m.decisions))
	}
}

func TestFinalizedStopsReading(t *testing.T) {
	m := New("m1", nil)
	m, _ = update(t, m, connectedMsg{src: &stubSource{}})
	m, cmd := update(t, m, eventMsg{Event{Type: models.EventFinalized, Result: models.MeetingResult{Status: models.MeetingStatusCompleted, SegmentCount: 3}}})
	if cmd != nil {
		t.Fatal("no further reads expected after the meeting ended")
	}
	if !strings.Contains(m.View(), "meeting ended: COMPLETED, 3 segments") {
		t.Fatalf("view:\n%s", m.View())
	}
	m, cmd = update(t, m, errMsg{errors.New("closed")})
	if cmd != nil {
		t.Fatal("no reconnect expected after the meeting ended")
	}
}

func TestErrorSchedulesReconnect(t *testing.T) {
	src := &stubSource{}
	m := New("m1", nil)
	m, _ = update(t, m, connectedMsg{src: src})
	m, cmd := update(t, m, errMsg{errors.New("connection reset")})
	if m.connected || !src.closed || cmd == nil {
		t.Fatalf("connected=%v closed=%v cmd=%v", m.connected, src.closed, cmd != nil)
	}
	if !strings.Contains(m.View(), "disconnected: connection reset") {
		t.Fatalf("view:\n%s", m.View())
	}
}

func TestEventsURL(t *testing.T) {
	got, err := EventsURL("https://api.example.com/", "m 1", "tok")
	if err != nil {
		t.Fatalf("EventsURL: %v", err)
	}
	if got != "wss://api.example.com/ws/meetings/m%201/events?token=tok" {
		t.Fatalf("url = %s", got)
	}
	if _, err := EventsURL("ftp://x", "m", ""); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"INSIGHTS","data":{"actionItems":[{"task":"ship","owner":"Ann"}],"decisions":["go"],"topics":["launch"]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Insights.ActionItems[0].Owner != "Ann" || ev.Insights.Topics[0] != "launch" {
		t.Fatalf("event = %+v", ev)
	}
}
