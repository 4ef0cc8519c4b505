package streams

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/redis/go-redis/v9"
)

// JobQueue is the logging front of a Publisher used by the API and worker.
type JobQueue struct {
	publisher *Publisher
	logger    *log.Logger
}

// NewJobQueue builds a queue over client using the job schemas.
func NewJobQueue(client *redis.Client, cfg config.QueueConfig) (*JobQueue, error) {
	cfg = cfg.Normalize()
	reg, err := NewJobRegistry()
	if err != nil {
		return nil, err
	}
	return &JobQueue{
		publisher: NewPublisher(client, reg, cfg.Stream, cfg.MaxLen),
		logger:    log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
	}, nil
}

// Stream returns the stream name jobs are appended to.
func (q *JobQueue) Stream() string { return q.publisher.Stream() }

// Enqueue validates payload against the jobType schema and appends it.
func (q *JobQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	env, id, err := q.publisher.PublishJob(ctx, jobType, payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	q.logger.Printf("enqueued %s meeting=%s id=%s", jobType, env.MeetingID, id)
	return nil
}

// Retry re-appends a failed job with the attempt counter bumped.
func (q *JobQueue) Retry(ctx context.Context, env Envelope) error {
	next, id, err := q.publisher.Requeue(ctx, env)
	if err != nil {
		return fmt.Errorf("retry %s: %w", env.EventType, err)
	}
	q.logger.Printf("requeued %s meeting=%s attempt=%d id=%s", next.EventType, next.MeetingID, next.Attempt, id)
	return nil
}

// DeadLetter moves a job that ran out of attempts to the dead-letter stream.
func (q *JobQueue) DeadLetter(ctx context.Context, env Envelope, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	id, err := q.publisher.DeadLetter(ctx, env, reason)
	if err != nil {
		return fmt.Errorf("dead letter %s: %w", env.EventType, err)
	}
	q.logger.Printf("dead-lettered %s meeting=%s attempt=%d id=%s", env.EventType, env.MeetingID, env.Attempt, id)
	return nil
}
