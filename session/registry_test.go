package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/meetingmind/models"
)

func TestOpenRejectsDuplicate(t *testing.T) {
	r := NewRegistry(5)
	if _, err := r.Open("m1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open("m1"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestGetAndClose(t *testing.T) {
	r := NewRegistry(5)
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	opened, _ := r.Open("m1")
	got, err := r.Get("m1")
	if err != nil || got != opened {
		t.Fatalf("expected opened session, got %v %v", got, err)
	}
	r.Close("m1")
	r.Close("m1")
	if _, err := r.Get("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if _, err := r.Open("m1"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestConcurrentSessionsKeepAppendOrder(t *testing.T) {
	r := NewRegistry(5)
	const meetings, perMeeting = 8, 200
	var wg sync.WaitGroup
	for m := 0; m < meetings; m++ {
		id := fmt.Sprintf("m%d", m)
		sess, err := r.Open(id)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			for i := 0; i < perMeeting; i++ {
				if _, _, err := sess.Append(models.Segment{ID: fmt.Sprintf("%s-%d", sess.MeetingID, i), IsFinal: true}); err != nil {
					t.Errorf("append: %v", err)
					return
				}
				_, _ = r.Get(sess.MeetingID)
			}
		}(sess)
	}
	wg.Wait()
	for m := 0; m < meetings; m++ {
		id := fmt.Sprintf("m%d", m)
		sess, _ := r.Get(id)
		segs := sess.Segments()
		if len(segs) != perMeeting {
			t.Fatalf("%s: expected %d segments, got %d", id, perMeeting, len(segs))
		}
		for i, s := range segs {
			if want := fmt.Sprintf("%s-%d", id, i); s.ID != want {
				t.Fatalf("%s: position %d expected %s, got %s", id, i, want, s.ID)
			}
		}
	}
	if got := len(r.Active()); got != meetings {
		t.Fatalf("expected %d active sessions, got %d", meetings, got)
	}
}
