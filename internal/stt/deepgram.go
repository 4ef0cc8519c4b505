package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
)

// DeepgramDialer opens Deepgram live transcription sockets.
type DeepgramDialer struct {
	cfg    config.STTConfig
	dialer websocket.Dialer
	logger *log.Logger
}

// NewDeepgramDialer builds a dialer from normalized STT settings.
func NewDeepgramDialer(cfg config.STTConfig, logger *log.Logger) *DeepgramDialer {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[STT] ", log.LstdFlags)
	}
	return &DeepgramDialer{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger,
	}
}

// ListenURL returns the socket URL with live options applied.
func (d *DeepgramDialer) ListenURL() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("stt url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("diarize", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if d.cfg.Encoding != "" {
		q.Set("encoding", d.cfg.Encoding)
	}
	if d.cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects a new live stream for meetingID.
func (d *DeepgramDialer) Dial(ctx context.Context, meetingID string) (Stream, error) {
	target, err := d.ListenURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)
	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	s := &deepgramStream{
		meetingID: meetingID,
		conn:      conn,
		events:    make(chan transcript.RawEvent, eventBuffer),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
		logger:    d.logger,
	}
	go s.readLoop()
	go s.keepAlive(d.cfg.KeepAlive)
	return s, nil
}

type deepgramStream struct {
	meetingID string
	conn      *websocket.Conn
	events    chan transcript.RawEvent
	done      chan struct{}
	closing   chan struct{}
	logger    *log.Logger

	writeMu   sync.Mutex
	finished  bool
	closeOnce sync.Once
}

func (s *deepgramStream) Events() <-chan transcript.RawEvent { return s.events }

func (s *deepgramStream) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.finished {
		return ErrClosed
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *deepgramStream) writeControl(msgType string) error {
	payload, _ := json.Marshal(map[string]string{"type": msgType})
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *deepgramStream) Finish(ctx context.Context) error {
	s.writeMu.Lock()
	already := s.finished
	s.finished = true
	s.writeMu.Unlock()
	if !already {
		if err := s.writeControl("CloseStream"); err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			_ = s.Close()
			return fmt.Errorf("deepgram close stream: %w", err)
		}
	}
	select {
	case <-s.done:
		return s.Close()
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) keepAlive(every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.writeControl("KeepAlive"); err != nil {
				return
			}
		case <-s.done:
			return
		case <-s.closing:
			return
		}
	}
}

func (s *deepgramStream) readLoop() {
	defer close(s.done)
	defer close(s.events)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.logger.Printf("meeting=%s deepgram read: %v", s.meetingID, err)
				}
			}
			return
		}
		ev, ok, err := decodeResult(msg)
		if err != nil {
			s.logger.Printf("meeting=%s deepgram decode: %v", s.meetingID, err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.closing:
			return
		}
	}
}

type dgMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// decodeResult maps a Deepgram "Results" message to a RawEvent. Metadata and
// other message types report ok=false.
func decodeResult(msg []byte) (transcript.RawEvent, bool, error) {
	var m dgMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return transcript.RawEvent{}, false, err
	}
	if !strings.EqualFold(m.Type, "Results") {
		return transcript.RawEvent{}, false, nil
	}
	if len(m.Channel.Alternatives) == 0 {
		return transcript.RawEvent{}, false, errors.New("results without alternatives")
	}
	alt := m.Channel.Alternatives[0]
	ev := transcript.RawEvent{
		Text:       alt.Transcript,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		ReceivedAt: time.Now().UTC(),
	}
	for _, w := range alt.Words {
		word := transcript.Word{Text: w.Word, Start: w.Start, End: w.End, Confidence: w.Confidence}
		if w.Speaker != nil {
			word.Speaker = *w.Speaker
			word.HasSpeaker = true
		}
		ev.Words = append(ev.Words, word)
	}
	return ev, true, nil
}
