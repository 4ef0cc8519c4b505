package worker

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/meetingmind/models"
)

// FollowUpPrompt builds the follow-up email request from a summary and the
// meeting's action items.
func FollowUpPrompt(sum models.Summary, items []models.ActionItem) string {
	var b strings.Builder
	b.WriteString("Generate a professional follow-up email based on this meeting summary:\n\n")
	b.WriteString(sum.ExecutiveSummary)
	b.WriteString("\n\nKey points discussed:\n")
	b.WriteString(strings.Join(sum.KeyPoints, "\n"))
	if len(sum.Decisions) > 0 {
		b.WriteString("\n\nDecisions:\n")
		b.WriteString(strings.Join(sum.Decisions, "\n"))
	}
	b.WriteString("\n\nAction items:\n")
	for _, it := range items {
		owner := it.Owner
		if owner == "" {
			owner = "unassigned"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", it.Task, owner)
	}
	b.WriteString(`
Write a concise, professional follow-up email that:
1. Thanks participants
2. Summarizes key decisions
3. Lists action items with owners
4. Suggests next meeting if applicable

Return only the email body, no subject line.`)
	return b.String()
}
