package transcript

import (
	"fmt"
	"sync"
)

// SpeakerLabel pairs a provider speaker id with its session label.
type SpeakerLabel struct {
	ProviderID int    `json:"providerId"`
	Label      string `json:"label"`
}

// Labeler maps provider speaker ids to "Speaker N" labels in first-seen order.
// A label is never reassigned once issued.
type Labeler struct {
	mu     sync.Mutex
	labels map[int]string
	order  []int
}

func NewLabeler() *Labeler {
	return &Labeler{labels: make(map[int]string)}
}

// Label returns the stable label for id, issuing the next one on first sight.
func (l *Labeler) Label(id int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if label, ok := l.labels[id]; ok {
		return label
	}
	label := fmt.Sprintf("Speaker %d", len(l.order)+1)
	l.labels[id] = label
	l.order = append(l.order, id)
	return label
}

// Peek returns the label already issued for id without issuing one.
func (l *Labeler) Peek(id int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	label, ok := l.labels[id]
	return label, ok
}

// Labels lists issued labels in first-seen order.
func (l *Labeler) Labels() []SpeakerLabel {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SpeakerLabel, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, SpeakerLabel{ProviderID: id, Label: l.labels[id]})
	}
	return out
}
