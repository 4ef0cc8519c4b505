package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/meetingmind/models"
)

// Utterance is a normalized event that has not been labeled yet.
type Utterance struct {
	Segment   models.Segment
	SpeakerID int
}

// Normalizer turns provider events into canonical segments.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// NewNormalizer returns a Normalizer stamping segments with wall-clock time and UUIDs.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now, newID: uuid.NewString}
}

// Normalize converts ev for meetingID. Events without recognized speech are
// reported with ok=false and must be dropped by the caller.
func (n *Normalizer) Normalize(meetingID string, ev RawEvent) (Utterance, bool) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Utterance{}, false
	}
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = n.now()
	}
	return Utterance{
		Segment: models.Segment{
			ID:         n.newID(),
			MeetingID:  meetingID,
			Text:       text,
			Timestamp:  ts.UTC(),
			Confidence: confidence(ev),
			IsFinal:    ev.IsFinal,
		},
		SpeakerID: ev.SpeakerID(),
	}, true
}

// confidence prefers the alternative-level score and falls back to the mean word score.
func confidence(ev RawEvent) float64 {
	c := ev.Confidence
	if c <= 0 && len(ev.Words) > 0 {
		var sum float64
		for _, w := range ev.Words {
			sum += w.Confidence
		}
		c = sum / float64(len(ev.Words))
	}
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
