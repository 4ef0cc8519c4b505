package transcript

import (
	"fmt"
	"sync"
	"testing"
)

func TestLabelerFirstSeenOrder(t *testing.T) {
	l := NewLabeler()
	ids := []int{3, 0, 3, 7, 0, 1}
	want := []string{"Speaker 1", "Speaker 2", "Speaker 1", "Speaker 3", "Speaker 2", "Speaker 4"}
	for i, id := range ids {
		if got := l.Label(id); got != want[i] {
			t.Fatalf("id %d (step %d): expected %q, got %q", id, i, want[i], got)
		}
	}
	labels := l.Labels()
	if len(labels) != 4 {
		t.Fatalf("expected 4 labels, got %d", len(labels))
	}
	order := []int{3, 0, 7, 1}
	for i, sl := range labels {
		if sl.ProviderID != order[i] || sl.Label != fmt.Sprintf("Speaker %d", i+1) {
			t.Fatalf("unexpected label at %d: %#v", i, sl)
		}
	}
}

func TestLabelerStableUnderConcurrency(t *testing.T) {
	l := NewLabeler()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := 0; id < 20; id++ {
				l.Label(id)
			}
		}()
	}
	wg.Wait()
	seen := make(map[string]bool)
	for _, sl := range l.Labels() {
		if seen[sl.Label] {
			t.Fatalf("label %q issued twice", sl.Label)
		}
		seen[sl.Label] = true
		if again := l.Label(sl.ProviderID); again != sl.Label {
			t.Fatalf("label for %d changed from %q to %q", sl.ProviderID, sl.Label, again)
		}
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 labels, got %d", len(seen))
	}
}

func TestLabelerPeekDoesNotIssue(t *testing.T) {
	l := NewLabeler()
	if _, ok := l.Peek(4); ok {
		t.Fatalf("unseen id must not have a label")
	}
	if got := l.Label(2); got != "Speaker 1" {
		t.Fatalf("expected Speaker 1, got %q", got)
	}
	if got, ok := l.Peek(2); !ok || got != "Speaker 1" {
		t.Fatalf("expected issued label, got %q %v", got, ok)
	}
	if got := l.Label(4); got != "Speaker 2" {
		t.Fatalf("peek must not reserve a slot, got %q", got)
	}
}
