package insight

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mohammad-safakhou/meetingmind/models"
)

// ParseResponse decodes the model output into Insights. Markdown code fences
// around the object are tolerated.
func ParseResponse(raw string) (models.Insights, error) {
	body := stripFences(raw)
	if body == "" {
		return models.Insights{}, fmt.Errorf("empty insight response")
	}
	var out models.Insights
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return models.Insights{}, fmt.Errorf("decode insights: %w", err)
	}
	out.ActionItems = cleanItems(out.ActionItems)
	out.Decisions = cleanStrings(out.Decisions)
	out.Topics = cleanStrings(out.Topics)
	return out, nil
}

// ParseDeadline converts a model-supplied deadline into a UTC timestamp.
// Anything dateparse cannot read yields nil.
func ParseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanItems(items []models.InsightActionItem) []models.InsightActionItem {
	out := items[:0]
	for _, it := range items {
		it.Task = strings.TrimSpace(it.Task)
		it.Owner = strings.TrimSpace(it.Owner)
		it.Deadline = strings.TrimSpace(it.Deadline)
		if it.Task == "" {
			continue
		}
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
