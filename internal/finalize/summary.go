package finalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
)

// DefaultCharBudget bounds the transcript handed to the summary call.
const DefaultCharBudget = 15000

const (
	labelExecutive = "executive summary"
	labelKeyPoints = "key discussion points"
	labelDecisions = "decisions made"
)

// Section labels the summary prompt asks for. Only the first three are kept;
// the rest still terminate the preceding section.
var labels = []string{
	labelExecutive,
	labelKeyPoints,
	labelDecisions,
	"action items",
	"follow-up topics",
	"follow up topics",
}

const summaryTemplate = `Generate a comprehensive meeting summary from this transcript:

%s

Return:
1. Executive summary (2-3 sentences)
2. Key discussion points (bullet points)
3. Decisions made
4. Action items with owners
5. Follow-up topics`

var (
	headingPrefix = regexp.MustCompile(`^(?:#+\s*)?(?:\d+[.)]\s*)?[*_]*\s*`)
	bulletPrefix  = regexp.MustCompile(`^(?:[-*•+]|\d+[.)])\s+`)
)

// BuildTranscript renders segments as "Speaker: text" lines in order and
// truncates the result to a rune prefix of at most budget characters.
// total is the untruncated length in runes.
func BuildTranscript(segs []models.Segment, budget int) (text string, total int, truncated bool) {
	var b strings.Builder
	for _, seg := range segs {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if seg.Speaker != "" {
			b.WriteString(seg.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(t)
	}
	full := b.String()
	total = utf8.RuneCountInString(full)
	if budget <= 0 || total <= budget {
		return full, total, false
	}
	runes := []rune(full)
	return string(runes[:budget]), total, true
}

// Summarize asks the model for a sectioned summary of transcript and parses it.
func Summarize(ctx context.Context, llm provider.Provider, transcript string) (models.Summary, error) {
	raw, err := llm.Complete(ctx, provider.Request{Prompt: fmt.Sprintf(summaryTemplate, transcript)})
	if err != nil {
		return models.Summary{}, fmt.Errorf("summary llm: %w", err)
	}
	return ParseSummary(raw), nil
}

// ParseSummary locates the labelled sections in a model response. Missing
// sections yield empty fields.
func ParseSummary(raw string) models.Summary {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var out models.Summary
	if body := section(lines, labelExecutive); len(body) > 0 {
		parts := make([]string, 0, len(body))
		for _, l := range body {
			parts = append(parts, bulletPrefix.ReplaceAllString(l, ""))
		}
		out.ExecutiveSummary = strings.Join(parts, " ")
	}
	out.KeyPoints = bullets(section(lines, labelKeyPoints))
	out.Decisions = bullets(section(lines, labelDecisions))
	return out
}

// section returns the trimmed content lines following the first heading
// matching label, up to the next blank line or heading.
func section(lines []string, label string) []string {
	for i, line := range lines {
		lbl, inline, ok := heading(line)
		if !ok || lbl != label {
			continue
		}
		var out []string
		if inline != "" {
			out = append(out, inline)
		}
		j := i + 1
		if inline == "" {
			for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
				j++
			}
		}
		for ; j < len(lines); j++ {
			t := strings.TrimSpace(lines[j])
			if t == "" || strings.HasPrefix(t, "#") {
				break
			}
			if _, _, isHeading := heading(t); isHeading {
				break
			}
			out = append(out, t)
		}
		return out
	}
	return nil
}

// heading reports whether line is a section heading, returning the matched
// label and any content written after a colon on the same line.
func heading(line string) (label, inline string, ok bool) {
	t := headingPrefix.ReplaceAllString(strings.TrimSpace(line), "")
	lower := strings.ToLower(t)
	for _, l := range labels {
		if !strings.HasPrefix(lower, l) {
			continue
		}
		rest := strings.TrimLeft(t[len(l):], "*_ ")
		if strings.HasPrefix(rest, "(") {
			if end := strings.IndexByte(rest, ')'); end >= 0 {
				rest = strings.TrimLeft(rest[end+1:], "*_ ")
			}
		}
		switch {
		case rest == "":
			return l, "", true
		case strings.HasPrefix(rest, ":"):
			return l, strings.TrimSpace(strings.Trim(rest[1:], "*_ ")), true
		}
	}
	return "", "", false
}

func bullets(body []string) []string {
	var out []string
	for _, l := range body {
		if !bulletPrefix.MatchString(l) {
			continue
		}
		if item := strings.TrimSpace(bulletPrefix.ReplaceAllString(l, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}
