package stt

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/meetingmind/internal/transcript"
)

var (
	// ErrDegraded is returned by Send once reconnect attempts are exhausted.
	ErrDegraded = errors.New("stt: stream degraded")
	// ErrClosed is returned by Send after Finish or Close.
	ErrClosed = errors.New("stt: stream closed")
	// ErrReconnecting is returned by Send while a lost connection is redialed.
	// The frame is dropped; the stream stays usable.
	ErrReconnecting = errors.New("stt: reconnecting")
)

// Stream is one live transcription connection for a meeting. Events is closed
// when the provider side ends.
type Stream interface {
	Send(frame []byte) error
	Events() <-chan transcript.RawEvent
	// Finish asks the provider to flush pending results and waits for it to end the stream.
	Finish(ctx context.Context) error
	Close() error
}

// Dialer opens provider streams.
type Dialer interface {
	Dial(ctx context.Context, meetingID string) (Stream, error)
}
