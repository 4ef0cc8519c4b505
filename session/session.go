package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
	"github.com/mohammad-safakhou/meetingmind/models"
)

// DefaultBatchSize is the number of finalized segments per insight batch.
const DefaultBatchSize = 5

var (
	// ErrAlreadyActive is returned when a session for the meeting is already registered.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound is returned when no session is registered for the meeting.
	ErrNotFound = errors.New("session not found")
	// ErrNotStreaming is returned when an operation requires the STREAMING state.
	ErrNotStreaming = errors.New("session not streaming")
	// ErrClosed is returned for writes against a CLOSED session.
	ErrClosed = errors.New("session closed")
)

// State is the lifecycle state of a session.
type State int

const (
	StateStreaming State = iota
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Session is the live processing context of one meeting. Segments are
// appended by a single writer; snapshots handed out are copies.
type Session struct {
	MeetingID string
	CreatedAt time.Time
	Speakers  *transcript.Labeler

	batchSize int

	mu         sync.Mutex
	state      State
	segments   []models.Segment
	sinceBatch int
	insights   []models.Insights
	degraded   bool

	extractCtx    context.Context
	cancelExtract context.CancelFunc
	inflight      int
	idle          chan struct{}

	// emitMu is held shared while an insight batch is emitted and
	// exclusively by Close.
	emitMu sync.RWMutex
}

func newSession(meetingID string, batchSize int, now time.Time) *Session {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		MeetingID:     meetingID,
		CreatedAt:     now,
		Speakers:      transcript.NewLabeler(),
		batchSize:     batchSize,
		state:         StateStreaming,
		extractCtx:    ctx,
		cancelExtract: cancel,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Append adds a finalized segment. When the since-last-batch counter reaches
// the batch size while STREAMING, a copy of the last batchSize segments is
// returned with triggered=true and the counter resets.
func (s *Session) Append(seg models.Segment) (window []models.Segment, triggered bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false, ErrClosed
	}
	s.segments = append(s.segments, seg)
	if s.state != StateStreaming {
		return nil, false, nil
	}
	s.sinceBatch++
	if s.sinceBatch < s.batchSize {
		return nil, false, nil
	}
	s.sinceBatch = 0
	window = make([]models.Segment, s.batchSize)
	copy(window, s.segments[len(s.segments)-s.batchSize:])
	return window, true, nil
}

// Segments returns a copy of the finalized segments in append order.
func (s *Session) Segments() []models.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len returns the number of finalized segments.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// SinceLastBatch returns the number of segments appended since the last trigger.
func (s *Session) SinceLastBatch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceBatch
}

// BeginExtraction registers an insight extraction against the session. The
// returned context is cancelled when the session gives up waiting on
// extractions; done must be called when the extraction settles. ok is false
// once the session has left STREAMING.
func (s *Session) BeginExtraction() (ctx context.Context, done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return nil, nil, false
	}
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
	var once sync.Once
	return s.extractCtx, func() { once.Do(s.extractionDone) }, true
}

func (s *Session) extractionDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

// AddInsights records an extraction result. It reports false, discarding the
// result, when the session is already CLOSED.
func (s *Session) AddInsights(ins models.Insights) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.insights = append(s.insights, ins)
	return true
}

// EmitInsights records a batch and runs emit while the session is held open,
// so Close cannot complete until emit returns. It reports false without
// calling emit once the session is CLOSED.
func (s *Session) EmitInsights(ins models.Insights, emit func()) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if !s.AddInsights(ins) {
		return false
	}
	if emit != nil {
		emit()
	}
	return true
}

// Insights returns the accumulated insight batches.
func (s *Session) Insights() []models.Insights {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Insights, len(s.insights))
	copy(out, s.insights)
	return out
}

// BeginFinalizing moves STREAMING to FINALIZING. Calling it again while
// FINALIZING is a no-op.
func (s *Session) BeginFinalizing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStreaming:
		s.state = StateFinalizing
		return nil
	case StateFinalizing:
		return nil
	}
	return ErrClosed
}

// WaitExtractions blocks until in-flight extractions settle or grace elapses.
// On timeout the extraction context is cancelled and false is returned; an
// extraction that ignores cancellation keeps its slot but holds no waiter.
func (s *Session) WaitExtractions(ctx context.Context, grace time.Duration) bool {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return true
	}
	settled := s.idle
	s.mu.Unlock()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-settled:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	s.cancelExtract()
	return false
}

// Close moves the session to the terminal CLOSED state. It waits for a batch
// being emitted to finish; later batches are discarded.
func (s *Session) Close() {
	s.emitMu.Lock()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.emitMu.Unlock()
	s.cancelExtract()
}

// MarkDegraded flags that the speech-to-text transport gave up reconnecting.
func (s *Session) MarkDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

// Degraded reports whether the transport is degraded.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}
