package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler runs one job. A returned error is reported to the failure callback
// given to Deliver; the entry is acknowledged either way.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads post-processing jobs from one stream as a member of a
// consumer group and routes each job to the handler registered for its type.
// Job types without a handler belong to another group and are acknowledged
// untouched.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	stream   string
	group    string
	name     string
	handlers map[string]Handler
	logger   *log.Logger
}

// ReadOption configures a single XREADGROUP call.
type ReadOption func(*redis.XReadGroupArgs)

// WithBlock sets the maximum blocking duration when reading.
func WithBlock(d time.Duration) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the number of jobs returned in a single read.
func WithCount(n int64) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// NewConsumer builds a consumer of stream for the given group and name.
func NewConsumer(client *redis.Client, registry *SchemaRegistry, stream, group, name string) *Consumer {
	return &Consumer{
		client:   client,
		registry: registry,
		stream:   stream,
		group:    group,
		name:     name,
		handlers: map[string]Handler{},
		logger:   log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
	}
}

// Stream returns the stream this consumer reads.
func (c *Consumer) Stream() string { return c.stream }

// Handle registers h for jobType, replacing any earlier handler.
func (c *Consumer) Handle(jobType string, h Handler) {
	c.handlers[jobType] = h
}

// Dispatch runs the handler registered for msg's job type. handled is false
// when no handler is registered.
func (c *Consumer) Dispatch(ctx context.Context, msg Message) (handled bool, err error) {
	h, ok := c.handlers[msg.Envelope.EventType]
	if !ok {
		return false, nil
	}
	return true, h(ctx, msg)
}

// Deliver dispatches msgs in order and acknowledges each one. failed is
// called for every job whose handler returned an error.
func (c *Consumer) Deliver(ctx context.Context, msgs []Message, failed func(Message, error)) {
	for _, msg := range msgs {
		handled, err := c.Dispatch(ctx, msg)
		if !handled {
			c.logger.Printf("ack %s (%s) without handler", msg.ID, msg.Envelope.EventType)
		}
		if err != nil && failed != nil {
			failed(msg, err)
		}
		if err := c.Ack(ctx, msg.ID); err != nil {
			c.logger.Printf("warn: ack %s: %v", msg.ID, err)
		}
	}
}

// EnsureGroup creates the consumer group if it does not exist.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Message represents a consumed job entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read pulls new jobs for this consumer.
func (c *Consumer) Read(ctx context.Context, opts ...ReadOption) ([]Message, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
	}
	for _, opt := range opts {
		opt(args)
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			if decoded, ok := c.decodeMessage(ctx, msg); ok {
				recordDelivered(ctx, decoded.Envelope.EventType, false)
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Ack acknowledges the given entry ids.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// LagMetrics returns lag details for the consumer group.
func (c *Consumer) LagMetrics(ctx context.Context) (LagMetrics, error) {
	return GroupLag(ctx, c.client, c.stream, c.group)
}

// AutoClaim takes over jobs left pending longer than minIdle by a crashed
// consumer. The returned cursor continues the scan; "0-0" means done.
func (c *Consumer) AutoClaim(ctx context.Context, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if err := c.check(); err != nil {
		return nil, "", err
	}
	args := &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
	}
	if count > 0 {
		args.Count = count
	}
	msgs, next, err := c.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if decoded, ok := c.decodeMessage(ctx, msg); ok {
			recordDelivered(ctx, decoded.Envelope.EventType, true)
			out = append(out, decoded)
		}
	}
	return out, next, nil
}

func (c *Consumer) check() error {
	if c.stream == "" {
		return fmt.Errorf("stream name is required")
	}
	if c.group == "" || c.name == "" {
		return fmt.Errorf("consumer group and name must be configured")
	}
	return nil
}

// decodeMessage turns a stream entry into a Message. Entries that cannot be
// decoded or fail schema validation are copied to the dead-letter stream and
// acknowledged.
func (c *Consumer) decodeMessage(ctx context.Context, msg redis.XMessage) (Message, bool) {
	drop := func(eventType, reason string) (Message, bool) {
		recordRejected(ctx, eventType, reason)
		c.deadLetter(ctx, msg, reason)
		_ = c.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
		return Message{}, false
	}
	raw, ok := msg.Values["envelope"]
	if !ok {
		return drop("", "missing_envelope")
	}

	var bytesData []byte
	switch v := raw.(type) {
	case string:
		bytesData = []byte(v)
	case []byte:
		bytesData = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return drop("", "encoding")
		}
		bytesData = data
	}

	env, err := UnmarshalEnvelope(bytesData)
	if err != nil {
		return drop(env.EventType, "envelope")
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return drop(env.EventType, "schema")
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	values := deadLetterValues(msg, reason)
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(c.stream), Values: values}).Err(); err != nil {
		c.logger.Printf("warn: dead letter %s: %v", msg.ID, err)
	}
}

func deadLetterValues(msg redis.XMessage, reason string) map[string]interface{} {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["error"] = reason
	values["source_id"] = msg.ID
	return values
}
