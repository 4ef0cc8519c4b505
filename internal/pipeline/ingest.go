package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/meetingmind/internal/stt"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/session"
)

// Ingest is the producer-side handle of one live meeting.
type Ingest struct {
	svc      *Service
	sess     *session.Session
	stream   *stt.ReconnectingStream
	owner    string
	loopDone chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	attached bool
	ending   bool
	grace    *time.Timer

	endOnce sync.Once
	endDone chan struct{}
	result  models.MeetingResult
	endErr  error
}

func newIngest(svc *Service, sess *session.Session, stream *stt.ReconnectingStream) *Ingest {
	return &Ingest{
		svc:      svc,
		sess:     sess,
		stream:   stream,
		loopDone: make(chan struct{}),
		endDone:  make(chan struct{}),
		attached: true,
	}
}

// MeetingID returns the meeting this ingest feeds.
func (in *Ingest) MeetingID() string { return in.sess.MeetingID }

// OwnedBy reports whether userID may drive or watch this meeting. Meetings
// started without an owner are open to every caller.
func (in *Ingest) OwnedBy(userID string) bool {
	return in.owner == "" || in.owner == userID
}

// Session exposes the live session state.
func (in *Ingest) Session() *session.Session { return in.sess }

func (in *Ingest) loop() {
	defer close(in.loopDone)
	for ev := range in.stream.Events() {
		in.svc.handleEvent(in.sess, ev)
	}
}

// Write forwards one audio frame to speech-to-text. Frames are sent in call
// order. Transport trouble is logged by the stream and never fails the
// session; only a session that stopped streaming rejects frames.
func (in *Ingest) Write(frame []byte) error {
	if in.sess.State() != session.StateStreaming {
		return session.ErrNotStreaming
	}
	in.writeMu.Lock()
	err := in.stream.Send(frame)
	in.writeMu.Unlock()
	if err != nil {
		if framesDropped != nil {
			framesDropped.Add(context.Background(), 1)
		}
		if in.sess.State() != session.StateStreaming {
			return session.ErrNotStreaming
		}
	}
	return nil
}

// End signals end of stream: speech-to-text is flushed, the event loop is
// drained and the session is finalized. Concurrent and repeated calls share
// one finalization.
func (in *Ingest) End(ctx context.Context) (models.MeetingResult, error) {
	in.endOnce.Do(func() {
		in.mu.Lock()
		in.ending = true
		if in.grace != nil {
			in.grace.Stop()
			in.grace = nil
		}
		in.mu.Unlock()
		go in.finish(context.WithoutCancel(ctx))
	})
	select {
	case <-in.endDone:
		return in.result, in.endErr
	case <-ctx.Done():
		return models.MeetingResult{}, ctx.Err()
	}
}

func (in *Ingest) finish(ctx context.Context) {
	defer close(in.endDone)
	id := in.sess.MeetingID
	log := in.svc.logger
	if err := in.sess.BeginFinalizing(); err != nil {
		log.Printf("meeting=%s begin finalizing: %v", id, err)
	}

	dctx, cancel := context.WithTimeout(ctx, in.svc.opts.DrainTimeout)
	if err := in.stream.Finish(dctx); err != nil {
		log.Printf("meeting=%s stt finish: %v", id, err)
	}
	select {
	case <-in.loopDone:
	case <-dctx.Done():
		log.Printf("meeting=%s drain timed out, closing stt", id)
	}
	cancel()
	_ = in.stream.Close()
	<-in.loopDone

	if in.svc.finalizer != nil {
		in.result, in.endErr = in.svc.finalizer.Finalize(ctx, id)
		if in.endErr == nil && in.svc.hub != nil {
			in.svc.hub.Publish(id, models.Event{Type: models.EventFinalized, Data: in.result})
		}
	} else {
		in.sess.Close()
		in.svc.registry.Close(id)
	}
	in.svc.ingests.CompareAndDelete(id, in)
}

// Detach marks the producer gone after an abnormal disconnect. Unless a
// producer reattaches within the disconnect grace, the session is finalized.
func (in *Ingest) Detach() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ending || !in.attached {
		return
	}
	in.attached = false
	grace := in.svc.opts.DisconnectGrace
	in.svc.logger.Printf("meeting=%s producer detached, finalizing in %s unless reattached", in.sess.MeetingID, grace)
	in.grace = time.AfterFunc(grace, func() {
		in.mu.Lock()
		reattached := in.attached
		in.mu.Unlock()
		if reattached {
			return
		}
		if _, err := in.End(context.Background()); err != nil {
			in.svc.logger.Printf("meeting=%s finalize after disconnect: %v", in.sess.MeetingID, err)
		}
	})
}

func (in *Ingest) attach() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ending {
		return session.ErrNotStreaming
	}
	if in.attached {
		return session.ErrAlreadyActive
	}
	if in.grace != nil {
		in.grace.Stop()
		in.grace = nil
	}
	in.attached = true
	return nil
}

// Attached reports whether a producer currently owns the ingest.
func (in *Ingest) Attached() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.attached
}
