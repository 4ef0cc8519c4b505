package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/mohammad-safakhou/meetingmind/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

var (
	metricsOnce    sync.Once
	droppedCounter otelmetric.Int64Counter
	publishCounter otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("meetingmind/broadcast")
	var err error
	if droppedCounter, err = meter.Int64Counter("broadcast_dropped_total"); err != nil {
		log.Printf("broadcast metrics init: broadcast_dropped_total: %v", err)
	}
	if publishCounter, err = meter.Int64Counter("broadcast_published_total"); err != nil {
		log.Printf("broadcast metrics init: broadcast_published_total: %v", err)
	}
}

// Hub fans meeting events out to the subscribers of that meeting only.
// Each meeting has its own subscriber set and lock.
type Hub struct {
	topics sync.Map // meeting id -> *topic
	buffer int
	logger *log.Logger
}

type topic struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber receives encoded events for one meeting.
type Subscriber struct {
	MeetingID string

	hub   *Hub
	ch    chan []byte
	once  sync.Once
	drops atomic.Int64
}

// NewHub builds a hub; buffer <= 0 selects DefaultSubscriberBuffer.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[BROADCAST] ", log.LstdFlags)
	}
	metricsOnce.Do(initMetrics)
	return &Hub{buffer: buffer, logger: logger}
}

// Subscribe associates a new subscriber with meetingID.
func (h *Hub) Subscribe(meetingID string) *Subscriber {
	sub := &Subscriber{MeetingID: meetingID, hub: h, ch: make(chan []byte, h.buffer)}
	for {
		v, _ := h.topics.LoadOrStore(meetingID, &topic{subs: make(map[*Subscriber]struct{})})
		t := v.(*topic)
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			continue
		}
		t.subs[sub] = struct{}{}
		t.mu.Unlock()
		return sub
	}
}

// C is the stream of JSON-encoded events. It is closed on Close.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Dropped returns how many events were discarded because the subscriber lagged.
func (s *Subscriber) Dropped() int64 { return s.drops.Load() }

// Close detaches the subscriber from its meeting.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		v, ok := s.hub.topics.Load(s.MeetingID)
		if ok {
			t := v.(*topic)
			t.mu.Lock()
			delete(t.subs, s)
			if len(t.subs) == 0 && !t.closed {
				t.closed = true
				s.hub.topics.CompareAndDelete(s.MeetingID, t)
			}
			close(s.ch)
			t.mu.Unlock()
			return
		}
		close(s.ch)
	})
}

// Publish delivers ev to every current subscriber of meetingID without
// blocking. A subscriber whose queue is full misses the event.
func (h *Hub) Publish(meetingID string, ev models.Event) {
	v, ok := h.topics.Load(meetingID)
	if !ok {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("meeting %s: encode %s event: %v", meetingID, ev.Type, err)
		return
	}
	t := v.(*topic)
	attrs := otelmetric.WithAttributes(attribute.String("event_type", ev.Type))
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		select {
		case sub.ch <- payload:
		default:
			n := sub.drops.Add(1)
			if droppedCounter != nil {
				droppedCounter.Add(context.Background(), 1, attrs)
			}
			if n == 1 || n%100 == 0 {
				h.logger.Printf("meeting %s: subscriber lagging, dropped %d events", meetingID, n)
			}
		}
	}
	if publishCounter != nil {
		publishCounter.Add(context.Background(), 1, attrs)
	}
}

// Subscribers returns the number of subscribers currently attached to meetingID.
func (h *Hub) Subscribers(meetingID string) int {
	v, ok := h.topics.Load(meetingID)
	if !ok {
		return 0
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
