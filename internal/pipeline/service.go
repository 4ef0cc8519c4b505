package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/meetingmind/internal/insight"
	"github.com/mohammad-safakhou/meetingmind/internal/stt"
	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/session"
)

// Broadcaster fans live events out to a meeting's subscribers.
type Broadcaster interface {
	Publish(meetingID string, ev models.Event)
}

// Store is the persistence the live path needs.
type Store interface {
	StartMeeting(ctx context.Context, meetingID, userID, title string, startedAt time.Time) error
	InsertSegment(ctx context.Context, seg models.Segment) error
}

// Extractor runs one insight batch. It must not return errors to the caller.
type Extractor interface {
	Run(ctx context.Context, sink insight.Sink, meetingID string, window []models.Segment)
}

// Finalizer closes a session.
type Finalizer interface {
	Finalize(ctx context.Context, meetingID string) (models.MeetingResult, error)
}

// Options tune per-session behaviour.
type Options struct {
	DisconnectGrace  time.Duration
	DrainTimeout     time.Duration
	StoreTimeout     time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration
}

// StartOption sets meeting metadata recorded at start.
type StartOption func(*startMeta)

type startMeta struct {
	userID string
	title  string
}

// WithOwner records the owning user and a title on the meeting row.
func WithOwner(userID, title string) StartOption {
	return func(m *startMeta) {
		m.userID = userID
		m.title = title
	}
}

// Service runs the live pipeline for every active meeting. Each meeting has
// its own event loop; nothing is shared across meetings but the registry.
type Service struct {
	registry   *session.Registry
	dialer     stt.Dialer
	normalizer *transcript.Normalizer
	hub        Broadcaster
	store      Store
	extractor  Extractor
	finalizer  Finalizer
	opts       Options
	logger     *log.Logger

	ingests sync.Map // meeting id -> *Ingest
}

// NewService wires the pipeline. store may be nil.
func NewService(reg *session.Registry, dialer stt.Dialer, hub Broadcaster, store Store, extractor Extractor, finalizer Finalizer, opts Options, logger *log.Logger) *Service {
	metricsOnce.Do(initMetrics)
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Service{
		registry:   reg,
		dialer:     dialer,
		normalizer: transcript.NewNormalizer(),
		hub:        hub,
		store:      store,
		extractor:  extractor,
		finalizer:  finalizer,
		opts:       opts,
		logger:     logger,
	}
}

// Start opens a session for meetingID, connects speech-to-text and starts the
// meeting's event loop. A meeting that is already active is rejected with
// session.ErrAlreadyActive.
func (s *Service) Start(ctx context.Context, meetingID string, opts ...StartOption) (*Ingest, error) {
	var meta startMeta
	for _, o := range opts {
		o(&meta)
	}
	sess, err := s.registry.Open(meetingID)
	if err != nil {
		return nil, err
	}
	stream, err := stt.NewReconnectingStream(ctx, s.dialer, meetingID, stt.ReconnectOptions{
		MaxRetries: s.opts.MaxReconnects,
		Backoff:    s.opts.ReconnectBackoff,
		OnDegraded: sess.MarkDegraded,
		Logger:     s.logger,
	})
	if err != nil {
		sess.Close()
		s.registry.Close(meetingID)
		return nil, fmt.Errorf("start %s: %w", meetingID, err)
	}
	if s.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
		if err := s.store.StartMeeting(sctx, meetingID, meta.userID, meta.title, sess.CreatedAt); err != nil {
			s.logger.Printf("meeting=%s record start: %v", meetingID, err)
		}
		cancel()
	}

	in := newIngest(s, sess, stream)
	in.owner = meta.userID
	s.ingests.Store(meetingID, in)
	go in.loop()
	if sessionsStarted != nil {
		sessionsStarted.Add(ctx, 1)
	}
	s.logger.Printf("meeting=%s session started", meetingID)
	return in, nil
}

// Attach hands the live ingest of meetingID to a reconnecting producer.
// A meeting started by a different user is reported as session.ErrNotFound.
func (s *Service) Attach(meetingID, userID string) (*Ingest, error) {
	v, ok := s.ingests.Load(meetingID)
	if !ok {
		return nil, session.ErrNotFound
	}
	in := v.(*Ingest)
	if !in.OwnedBy(userID) {
		return nil, session.ErrNotFound
	}
	if err := in.attach(); err != nil {
		return nil, err
	}
	s.logger.Printf("meeting=%s producer reattached", meetingID)
	return in, nil
}

// Owner returns the user that started the live meeting. ok is false when the
// meeting has no live session.
func (s *Service) Owner(meetingID string) (owner string, ok bool) {
	v, ok := s.ingests.Load(meetingID)
	if !ok {
		return "", false
	}
	return v.(*Ingest).owner, true
}

// Active lists meetings with a live session.
func (s *Service) Active() []string { return s.registry.Active() }

// Shutdown ends every live session and waits for their finalization.
func (s *Service) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	s.ingests.Range(func(_, v interface{}) bool {
		in := v.(*Ingest)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := in.End(ctx); err != nil {
				s.logger.Printf("meeting=%s shutdown finalize: %v", in.MeetingID(), err)
			}
		}()
		return true
	})
	wg.Wait()
}

// handleEvent runs on the meeting's loop, one event at a time.
func (s *Service) handleEvent(sess *session.Session, ev transcript.RawEvent) {
	utt, ok := s.normalizer.Normalize(sess.MeetingID, ev)
	if !ok {
		return
	}
	seg := utt.Segment
	ctx := context.Background()

	if !seg.IsFinal {
		// previews never issue labels; a speaker not yet finalized stays blank
		seg.Speaker, _ = sess.Speakers.Peek(utt.SpeakerID)
		if interimCounter != nil {
			interimCounter.Add(ctx, 1)
		}
		s.publish(sess.MeetingID, seg)
		return
	}

	seg.Speaker = sess.Speakers.Label(utt.SpeakerID)
	window, triggered, err := sess.Append(seg)
	if err != nil {
		s.logger.Printf("meeting=%s drop final segment: %v", sess.MeetingID, err)
		return
	}
	if segmentsCounter != nil {
		segmentsCounter.Add(ctx, 1)
	}
	s.publish(sess.MeetingID, seg)
	if s.store != nil {
		sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		if err := s.store.InsertSegment(sctx, seg); err != nil {
			s.logger.Printf("meeting=%s persist segment %s: %v", sess.MeetingID, seg.ID, err)
		}
		cancel()
	}
	if triggered {
		s.triggerExtraction(sess, window)
	}
}

func (s *Service) publish(meetingID string, seg models.Segment) {
	if s.hub != nil {
		s.hub.Publish(meetingID, models.Event{Type: models.EventTranscript, Data: seg})
	}
}

// triggerExtraction starts an insight batch without blocking the loop.
func (s *Service) triggerExtraction(sess *session.Session, window []models.Segment) {
	if s.extractor == nil {
		return
	}
	ctx, done, ok := sess.BeginExtraction()
	if !ok {
		return
	}
	if extractTriggered != nil {
		extractTriggered.Add(context.Background(), 1)
	}
	go func() {
		defer done()
		if ctx.Err() != nil {
			return
		}
		s.extractor.Run(ctx, sess, sess.MeetingID, window)
	}()
}
