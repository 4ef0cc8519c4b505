package stt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// ReconnectOptions bound transport recovery.
type ReconnectOptions struct {
	MaxRetries int
	Backoff    time.Duration
	// OnDegraded runs once when retries are exhausted.
	OnDegraded func()
	Logger     *log.Logger
}

var (
	metricsOnce      sync.Once
	reconnectCounter otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("meetingmind/stt")
	var err error
	if reconnectCounter, err = meter.Int64Counter("stt_reconnects_total"); err != nil {
		log.Printf("stt metrics init: stt_reconnects_total: %v", err)
	}
}

// ReconnectingStream keeps a provider stream alive across transport failures.
// Events from successive connections are forwarded on one channel in order.
type ReconnectingStream struct {
	dialer    Dialer
	meetingID string
	opts      ReconnectOptions
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan transcript.RawEvent
	ended  chan struct{}

	mu        sync.Mutex
	cur       Stream
	finishing bool
	degraded  bool
	dropped   int64
}

// NewReconnectingStream dials the first connection, retrying with backoff,
// and starts forwarding its events.
func NewReconnectingStream(ctx context.Context, d Dialer, meetingID string, opts ReconnectOptions) (*ReconnectingStream, error) {
	metricsOnce.Do(initMetrics)
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[STT] ", log.LstdFlags)
	}
	rctx, cancel := context.WithCancel(context.Background())
	s := &ReconnectingStream{
		dialer:    d,
		meetingID: meetingID,
		opts:      opts,
		logger:    logger,
		ctx:       rctx,
		cancel:    cancel,
		out:       make(chan transcript.RawEvent, eventBuffer),
		ended:     make(chan struct{}),
	}
	first, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.cur = first
	go s.pump(first)
	return s, nil
}

func (s *ReconnectingStream) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.Backoff
	eb.MaxInterval = 16 * s.opts.Backoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.opts.MaxRetries)), ctx)
}

func (s *ReconnectingStream) dial(ctx context.Context) (Stream, error) {
	var st Stream
	op := func() error {
		var err error
		st, err = s.dialer.Dial(ctx, s.meetingID)
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Printf("meeting=%s stt dial failed, retrying in %s: %v", s.meetingID, wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, s.newBackOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("stt dial: %w", err)
	}
	return st, nil
}

func (s *ReconnectingStream) pump(st Stream) {
	defer close(s.ended)
	defer close(s.out)
	for {
		for ev := range st.Events() {
			select {
			case s.out <- ev:
			case <-s.ctx.Done():
				return
			}
		}
		s.mu.Lock()
		done := s.finishing || s.ctx.Err() != nil
		s.mu.Unlock()
		if done {
			return
		}

		s.mu.Lock()
		if s.cur == st {
			s.cur = nil
		}
		s.mu.Unlock()
		s.logger.Printf("meeting=%s stt transport lost, reconnecting", s.meetingID)
		if reconnectCounter != nil {
			reconnectCounter.Add(s.ctx, 1)
		}
		_ = st.Close()
		next, err := s.dial(s.ctx)
		if err != nil {
			s.markDegraded(err)
			return
		}
		s.mu.Lock()
		if s.finishing || s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = next.Close()
			return
		}
		s.cur = next
		s.mu.Unlock()
		st = next
	}
}

func (s *ReconnectingStream) markDegraded(err error) {
	s.mu.Lock()
	s.degraded = true
	s.cur = nil
	s.mu.Unlock()
	s.logger.Printf("meeting=%s stt degraded after %d reconnect attempts: %v", s.meetingID, s.opts.MaxRetries, err)
	if s.opts.OnDegraded != nil {
		s.opts.OnDegraded()
	}
}

// Events delivers events from every underlying connection in order.
func (s *ReconnectingStream) Events() <-chan transcript.RawEvent { return s.out }

// Degraded reports whether reconnect attempts were exhausted.
func (s *ReconnectingStream) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Send forwards a frame. While a lost connection is redialed frames are
// dropped with ErrReconnecting; once degraded, with ErrDegraded.
func (s *ReconnectingStream) Send(frame []byte) error {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.degraded || s.cur == nil {
		cause := ErrReconnecting
		if s.degraded {
			cause = ErrDegraded
		}
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%500 == 0 {
			s.logger.Printf("meeting=%s stt unavailable (%v), dropped %d frames", s.meetingID, cause, n)
		}
		return cause
	}
	cur := s.cur
	s.mu.Unlock()
	if err := cur.Send(frame); err != nil {
		// the pump notices the broken connection and redials
		return fmt.Errorf("stt send: %v: %w", err, ErrReconnecting)
	}
	return nil
}

// Finish flushes the current connection and waits for forwarding to end.
func (s *ReconnectingStream) Finish(ctx context.Context) error {
	s.mu.Lock()
	s.finishing = true
	cur := s.cur
	s.mu.Unlock()
	var err error
	if cur != nil {
		err = cur.Finish(ctx)
	}
	select {
	case <-s.ended:
	case <-ctx.Done():
		s.cancel()
		if err == nil {
			err = ctx.Err()
		}
	}
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	return err
}

// Close tears down the current connection and stops forwarding.
func (s *ReconnectingStream) Close() error {
	s.mu.Lock()
	s.finishing = true
	cur := s.cur
	s.mu.Unlock()
	s.cancel()
	if cur != nil {
		return cur.Close()
	}
	return nil
}
