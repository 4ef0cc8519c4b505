package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
)

// RenderMarkdown renders a stored meeting, its action items and transcript
// as a markdown document. Timestamps are offsets from the meeting start.
func RenderMarkdown(m models.Meeting, segs []models.Segment, items []models.ActionItem) string {
	var b strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", m.Title)
	} else {
		b.WriteString("# Meeting Transcript\n\n")
	}
	fmt.Fprintf(&b, "- Meeting: `%s`\n", m.ID)
	fmt.Fprintf(&b, "- Status: %s\n", m.Status)
	if !m.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- Started: %s\n", m.StartedAt.UTC().Format(time.RFC3339))
	}
	if m.DurationSeconds > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", time.Duration(m.DurationSeconds)*time.Second)
	}
	if speakers := speakersOf(segs); len(speakers) > 0 {
		fmt.Fprintf(&b, "- Speakers: %s\n", strings.Join(speakers, ", "))
	}
	b.WriteString("\n")

	sum := m.Summary
	if sum.ExecutiveSummary != "" || len(sum.KeyPoints) > 0 || len(sum.Decisions) > 0 {
		b.WriteString("## Summary\n\n")
		if sum.ExecutiveSummary != "" {
			fmt.Fprintf(&b, "%s\n\n", sum.ExecutiveSummary)
		}
		writeList(&b, "Key discussion points", sum.KeyPoints)
		writeList(&b, "Decisions made", sum.Decisions)
	}
	if m.SummaryTruncated {
		b.WriteString("> Summary generated from a truncated transcript.\n\n")
	}

	if len(items) > 0 {
		b.WriteString("## Action items\n\n")
		for _, it := range items {
			line := "- [ ] " + it.Task
			if it.Owner != "" {
				line += " (" + it.Owner + ")"
			}
			if it.Deadline != nil {
				line += " due " + it.Deadline.Format("2006-01-02")
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n## Transcript\n\n")
	var start time.Time
	if len(segs) > 0 {
		start = segs[0].Timestamp
		if !m.StartedAt.IsZero() && m.StartedAt.Before(start) {
			start = m.StartedAt
		}
	}
	for _, s := range segs {
		ts := ""
		if !s.Timestamp.IsZero() {
			ts = "[" + offsetTS(s.Timestamp.Sub(start)) + "] "
		}
		spk := ""
		if s.Speaker != "" {
			spk = "**" + s.Speaker + ":** "
		}
		fmt.Fprintf(&b, "%s%s%s\n\n", ts, spk, strings.TrimSpace(s.Text))
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func speakersOf(segs []models.Segment) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range segs {
		if s.Speaker != "" && !seen[s.Speaker] {
			seen[s.Speaker] = true
			out = append(out, s.Speaker)
		}
	}
	return out
}

func offsetTS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
