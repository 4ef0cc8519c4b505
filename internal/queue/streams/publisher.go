package streams

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/redis/go-redis/v9"
)

// DeadLetterSuffix is appended to a job stream name to form its dead-letter stream.
const DeadLetterSuffix = ":dead"

// DeadLetterStream returns the dead-letter stream paired with stream.
func DeadLetterStream(stream string) string { return stream + DeadLetterSuffix }

// Publisher appends post-processing jobs to one Redis stream. Each entry
// carries the job type, meeting id and attempt as plain stream fields next to
// the encoded envelope so a meeting's jobs can be inspected with XRANGE.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
	stream   string
	maxLen   int64
	now      func() time.Time
}

// NewPublisher creates a Publisher bound to stream. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewPublisher(client *redis.Client, registry *SchemaRegistry, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, registry: registry, stream: stream, maxLen: maxLen, now: time.Now}
}

// Stream returns the stream jobs are appended to.
func (p *Publisher) Stream() string { return p.stream }

// PublishJob wraps payload in a fresh envelope stamped with the meeting it
// belongs to and appends it.
func (p *Publisher) PublishJob(ctx context.Context, jobType string, payload interface{}) (Envelope, string, error) {
	env, err := NewEnvelope(jobType, models.JobPayloadVersion, payload)
	if err != nil {
		return Envelope{}, "", err
	}
	env.MeetingID = meetingIDOf(payload)
	id, err := p.Publish(ctx, env)
	return env, id, err
}

// Requeue appends a failed job again as a new entry with its attempt bumped.
func (p *Publisher) Requeue(ctx context.Context, env Envelope) (Envelope, string, error) {
	env = p.nextAttempt(env)
	id, err := p.Publish(ctx, env)
	return env, id, err
}

// Publish validates env against the job schemas and appends it.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	if p.stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = p.now().UTC()
	}
	if err := env.ValidateBasic(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return "", err
		}
	}
	values, err := entryValues(env)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	recordPublished(ctx, env.EventType)
	return id, nil
}

// DeadLetter parks a job that exhausted its attempts on the dead-letter
// stream together with the last failure.
func (p *Publisher) DeadLetter(ctx context.Context, env Envelope, reason string) (string, error) {
	values, err := entryValues(env)
	if err != nil {
		return "", err
	}
	values["error"] = reason
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(p.stream), Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd dead letter: %w", err)
	}
	recordRejected(ctx, env.EventType, "exhausted")
	return id, nil
}

func (p *Publisher) nextAttempt(env Envelope) Envelope {
	env.EventID = ""
	env.Attempt++
	env.OccurredAt = p.now().UTC()
	return env
}

func entryValues(env Envelope) (map[string]interface{}, error) {
	raw, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"envelope":   raw,
		"job":        env.EventType,
		"meeting_id": env.MeetingID,
		"attempt":    strconv.Itoa(env.Attempt),
	}, nil
}

func meetingIDOf(payload interface{}) string {
	switch p := payload.(type) {
	case models.FollowUpJob:
		return p.MeetingID
	case models.CRMSyncJob:
		return p.MeetingID
	case models.RegenerateSummaryJob:
		return p.MeetingID
	}
	return ""
}
