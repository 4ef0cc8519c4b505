package insight

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/meetingmind/models"
)

const systemPrompt = "You extract structured insights from meeting transcripts. Respond with a single JSON object and nothing else."

const extractionTemplate = `Analyze this meeting segment and extract:
1. Any action items (who needs to do what by when)
2. Key decisions made
3. Important topics discussed

Text: "%s"

Return JSON format:
{
  "actionItems": [{"task": "", "owner": "", "deadline": ""}],
  "decisions": [],
  "topics": []
}`

// BuildPrompt joins the window text in order and fills the extraction template.
func BuildPrompt(window []models.Segment) string {
	parts := make([]string, 0, len(window))
	for _, seg := range window {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return fmt.Sprintf(extractionTemplate, strings.Join(parts, " "))
}
