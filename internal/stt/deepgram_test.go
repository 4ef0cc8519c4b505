package stt

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
)

func resultsMessage(text string, final bool, speaker int) []byte {
	msg := map[string]interface{}{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]interface{}{
			"alternatives": []interface{}{map[string]interface{}{
				"transcript": text,
				"confidence": 0.93,
				"words": []interface{}{
					map[string]interface{}{"word": "w", "start": 0.1, "end": 0.2, "confidence": 0.9, "speaker": speaker},
				},
			}},
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

func fakeDeepgram(t *testing.T, frames chan<- []byte) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("unexpected auth %q", got)
		}
		q := r.URL.Query()
		if q.Get("diarize") != "true" || q.Get("interim_results") != "true" || q.Get("model") != "nova-2" {
			t.Errorf("missing live options: %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				frames <- data
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"r1"}`))
				_ = conn.WriteMessage(websocket.TextMessage, resultsMessage("hel", false, 1))
				_ = conn.WriteMessage(websocket.TextMessage, resultsMessage("hello there", true, 1))
				continue
			}
			var ctrl struct{ Type string }
			_ = json.Unmarshal(data, &ctrl)
			if ctrl.Type == "CloseStream" {
				_ = conn.WriteMessage(websocket.TextMessage, resultsMessage("bye", true, 0))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func TestDeepgramStreamRoundTrip(t *testing.T) {
	frames := make(chan []byte, 4)
	srv := fakeDeepgram(t, frames)
	defer srv.Close()

	cfg := config.STTConfig{APIKey: "dg-key", URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	d := NewDeepgramDialer(cfg, log.New(io.Discard, "", 0))
	st, err := d.Dial(context.Background(), "m1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := st.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case f := <-frames:
		if len(f) != 3 {
			t.Fatalf("frame mangled: %v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame not received by provider")
	}

	var got []transcript.RawEvent
	for len(got) < 2 {
		select {
		case ev := <-st.Events():
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}
	if got[0].IsFinal || got[0].Text != "hel" {
		t.Fatalf("expected interim first, got %+v", got[0])
	}
	if !got[1].IsFinal || got[1].Text != "hello there" || got[1].SpeakerID() != 1 {
		t.Fatalf("unexpected final %+v", got[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan []transcript.RawEvent)
	go func() {
		var rest []transcript.RawEvent
		for ev := range st.Events() {
			rest = append(rest, ev)
		}
		done <- rest
	}()
	if err := st.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	rest := <-done
	if len(rest) != 1 || rest[0].Text != "bye" {
		t.Fatalf("expected flushed final after CloseStream, got %+v", rest)
	}
	if err := st.Send([]byte{4}); err != ErrClosed {
		t.Fatalf("send after finish should be ErrClosed, got %v", err)
	}
}

func TestDeepgramDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	d := NewDeepgramDialer(config.STTConfig{APIKey: "bad", URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, log.New(io.Discard, "", 0))
	if _, err := d.Dial(context.Background(), "m1"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 dial error, got %v", err)
	}
}

func TestDecodeResultIgnoresNonResults(t *testing.T) {
	if _, ok, err := decodeResult([]byte(`{"type":"SpeechStarted"}`)); ok || err != nil {
		t.Fatalf("non-results message should be skipped")
	}
	ev, ok, err := decodeResult([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","words":[]}]}}`))
	if err != nil || !ok || ev.Text != "" || ev.SpeakerID() != 0 {
		t.Fatalf("empty alternative should decode to empty event: %+v %v", ev, err)
	}
}

func TestListenURLCarriesOptions(t *testing.T) {
	d := NewDeepgramDialer(config.STTConfig{APIKey: "k", Encoding: "linear16", SampleRate: 16000}, nil)
	u, err := d.ListenURL()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"wss://api.deepgram.com/v1/listen?", "encoding=linear16", "sample_rate=16000", "language=en-US", "smart_format=true"} {
		if !strings.Contains(u, want) {
			t.Fatalf("url %s missing %s", u, want)
		}
	}
}
