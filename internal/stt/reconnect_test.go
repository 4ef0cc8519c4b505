package stt

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
)

type fakeStream struct {
	events   chan transcript.RawEvent
	sent     [][]byte
	mu       sync.Mutex
	closeOne sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan transcript.RawEvent, 8)}
}

func (f *fakeStream) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeStream) Events() <-chan transcript.RawEvent { return f.events }
func (f *fakeStream) Finish(ctx context.Context) error  { return f.Close() }
func (f *fakeStream) Close() error {
	f.closeOne.Do(func() { close(f.events) })
	return nil
}

type scriptedDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	fail    bool
	calls   atomic.Int32
}

func (d *scriptedDialer) Dial(ctx context.Context, meetingID string) (Stream, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail || len(d.streams) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestReconnectingStreamRecoversAndKeepsOrder(t *testing.T) {
	first, second := newFakeStream(), newFakeStream()
	d := &scriptedDialer{streams: []*fakeStream{first, second}}
	rs, err := NewReconnectingStream(context.Background(), d, "m1", ReconnectOptions{MaxRetries: 3, Backoff: time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first.events <- transcript.RawEvent{Text: "one", IsFinal: true}
	close(first.events) // transport drop
	second.events <- transcript.RawEvent{Text: "two", IsFinal: true}

	for _, want := range []string{"one", "two"} {
		select {
		case ev := <-rs.Events():
			if ev.Text != want {
				t.Fatalf("got %q want %q", ev.Text, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	if err := rs.Send([]byte("x")); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	second.mu.Lock()
	n := len(second.sent)
	second.mu.Unlock()
	if n != 1 {
		t.Fatalf("frame should go to the new connection")
	}
	if rs.Degraded() {
		t.Fatalf("should not be degraded")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rs.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestReconnectingStreamDegradesAfterRetries(t *testing.T) {
	first := newFakeStream()
	d := &scriptedDialer{streams: []*fakeStream{first}}
	var degraded atomic.Bool
	rs, err := NewReconnectingStream(context.Background(), d, "m1", ReconnectOptions{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		OnDegraded: func() { degraded.Store(true) },
		Logger:     quiet(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	d.mu.Lock()
	d.fail = true
	d.mu.Unlock()
	close(first.events)

	select {
	case _, ok := <-rs.Events():
		if ok {
			t.Fatalf("expected events channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not give up")
	}
	if !degraded.Load() || !rs.Degraded() {
		t.Fatalf("expected degraded state")
	}
	if got := d.calls.Load(); got != 4 {
		t.Fatalf("expected 1 initial + 3 reconnect attempts, got %d", got)
	}
	if err := rs.Send([]byte("late")); !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded, got %v", err)
	}
	if err := rs.Finish(context.Background()); err != nil {
		t.Fatalf("finish while degraded: %v", err)
	}
}

func TestReconnectingStreamInitialDialFails(t *testing.T) {
	d := &scriptedDialer{fail: true}
	if _, err := NewReconnectingStream(context.Background(), d, "m1", ReconnectOptions{MaxRetries: 1, Backoff: time.Millisecond, Logger: quiet()}); err == nil {
		t.Fatalf("expected dial error")
	}
}

// gatedDialer hands out first, then blocks redials until release closes.
type gatedDialer struct {
	first, second Stream
	calls         atomic.Int32
	redialing     chan struct{}
	release       chan struct{}
	once          sync.Once
}

func (d *gatedDialer) Dial(ctx context.Context, meetingID string) (Stream, error) {
	if d.calls.Add(1) == 1 {
		return d.first, nil
	}
	d.once.Do(func() { close(d.redialing) })
	select {
	case <-d.release:
		return d.second, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSendDuringRedialIsNotClosed(t *testing.T) {
	first, second := newFakeStream(), newFakeStream()
	d := &gatedDialer{first: first, second: second, redialing: make(chan struct{}), release: make(chan struct{})}
	rs, err := NewReconnectingStream(context.Background(), d, "m1", ReconnectOptions{MaxRetries: 3, Backoff: time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	close(first.events)
	<-d.redialing

	err = rs.Send([]byte("lost"))
	if !errors.Is(err, ErrReconnecting) || errors.Is(err, ErrClosed) {
		t.Fatalf("send during redial err = %v, want ErrReconnecting", err)
	}
	close(d.release)
	deadline := time.Now().Add(2 * time.Second)
	for rs.Send([]byte("back")) != nil {
		if time.Now().After(deadline) {
			t.Fatal("stream did not recover")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := rs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rs.Send([]byte("after")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err = %v, want ErrClosed", err)
	}
}
