package transcript

import "time"

// Word is one recognized token inside a provider event.
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
	Speaker    int
	HasSpeaker bool
}

// RawEvent is a provider transcription event before normalization.
type RawEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []Word
	ReceivedAt time.Time
}

// SpeakerID returns the provider speaker of the event: the first word that
// carries one, otherwise 0.
func (e RawEvent) SpeakerID() int {
	for _, w := range e.Words {
		if w.HasSpeaker {
			return w.Speaker
		}
	}
	return 0
}
