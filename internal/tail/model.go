package tail

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mohammad-safakhou/meetingmind/models"
)

const maxInsightLines = 8

// Source yields live events; *Client satisfies it.
type Source interface {
	Next() (Event, error)
	Close() error
}

// Dialer opens a Source, used for the initial connect and reconnects.
type Dialer func() (Source, error)

// Messages.
type (
	connectedMsg struct{ src Source }
	eventMsg     struct{ ev Event }
	errMsg       struct{ err error }
	reconnectMsg struct{}
)

// Model is the bubbletea model of the live tail view.
type Model struct {
	meetingID string
	dial      Dialer
	src       Source

	lines       []models.Segment
	partial     models.Segment
	actionItems []models.InsightActionItem
	decisions   []string
	topics      []string
	result      *models.MeetingResult

	connected bool
	attempt   int
	errText   string
	width     int
	height    int
}

// New builds a tail model for meetingID.
func New(meetingID string, dial Dialer) Model {
	return Model{meetingID: meetingID, dial: dial}
}

func (m Model) Init() tea.Cmd { return connectCmd(m.dial) }

func connectCmd(dial Dialer) tea.Cmd {
	return func() tea.Msg {
		src, err := dial()
		if err != nil {
			return errMsg{err}
		}
		return connectedMsg{src}
	}
}

func readCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		ev, err := src.Next()
		if err != nil {
			return errMsg{err}
		}
		return eventMsg{ev}
	}
}

func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second
	return tea.Tick(delay, func(time.Time) tea.Msg { return reconnectMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.src != nil {
				_ = m.src.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case connectedMsg:
		m.src = msg.src
		m.connected = true
		m.attempt = 0
		m.errText = ""
		return m, readCmd(m.src)

	case eventMsg:
		m.apply(msg.ev)
		if m.result != nil {
			return m, nil
		}
		return m, readCmd(m.src)

	case errMsg:
		m.connected = false
		m.errText = msg.err.Error()
		if m.src != nil {
			_ = m.src.Close()
			m.src = nil
		}
		if m.result != nil {
			return m, nil
		}
		return m, reconnectCmd(m.attempt)

	case reconnectMsg:
		m.attempt++
		return m, connectCmd(m.dial)
	}
	return m, nil
}

func (m *Model) apply(ev Event) {
	switch ev.Type {
	case models.EventTranscript:
		if !ev.Segment.IsFinal {
			m.partial = ev.Segment
			return
		}
		m.lines = append(m.lines, ev.Segment)
		m.partial = models.Segment{}
	case models.EventInsights:
		m.actionItems = appendCapped(m.actionItems, ev.Insights.ActionItems)
		m.decisions = appendCapped(m.decisions, ev.Insights.Decisions)
		m.topics = appendCapped(m.topics, ev.Insights.Topics)
	case models.EventFinalized:
		res := ev.Result
		m.result = &res
		m.partial = models.Segment{}
	}
}

func appendCapped[T any](dst, src []T) []T {
	dst = append(dst, src...)
	if len(dst) > maxInsightLines {
		dst = dst[len(dst)-maxInsightLines:]
	}
	return dst
}

func (m Model) View() string {
	var b strings.Builder
	status := statusStyle.Render("connecting...")
	switch {
	case m.result != nil:
		status = doneStyle.Render(fmt.Sprintf("meeting ended: %s, %d segments", m.result.Status, m.result.SegmentCount))
	case m.connected:
		status = statusStyle.Render("live")
	case m.errText != "":
		status = errorStyle.Render("disconnected: " + m.errText)
	}
	b.WriteString(titleStyle.Render("meeting "+m.meetingID) + "  " + status + "\n\n")

	transcript := m.transcriptView()
	insights := m.insightsView()
	if m.width > 0 && m.width >= 100 {
		left := panelStyle.Width(m.width*3/5 - 4).Render(transcript)
		right := panelStyle.Width(m.width*2/5 - 4).Render(insights)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	} else {
		b.WriteString(panelStyle.Render(transcript) + "\n" + panelStyle.Render(insights))
	}
	b.WriteString("\n" + statusStyle.Render("q to quit"))
	return b.String()
}

func (m Model) transcriptView() string {
	rows := m.lines
	if limit := m.height - 8; limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	var b strings.Builder
	for _, s := range rows {
		b.WriteString(timestampStyle.Render(s.Timestamp.Local().Format("15:04:05")) + " ")
		b.WriteString(speakerStyle.Render(s.Speaker+":") + " " + s.Text + "\n")
	}
	if m.partial.Text != "" {
		b.WriteString(partialStyle.Render(m.partial.Speaker+": "+m.partial.Text) + "\n")
	}
	if b.Len() == 0 {
		return statusStyle.Render("waiting for speech")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) insightsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Action items") + "\n")
	for _, it := range m.actionItems {
		line := "• " + it.Task
		if it.Owner != "" {
			line += " (" + it.Owner + ")"
		}
		if it.Deadline != "" {
			line += " by " + it.Deadline
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + titleStyle.Render("Decisions") + "\n")
	for _, d := range m.decisions {
		b.WriteString("• " + d + "\n")
	}
	b.WriteString("\n" + titleStyle.Render("Topics") + "\n")
	b.WriteString(strings.Join(m.topics, ", "))
	return b.String()
}
