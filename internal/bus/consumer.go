package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
	maxRetries  = 5
)

// Handler processes one decoded envelope. A non-nil error makes Run retry
// the same message in-process with backoff, then dead-letter it once
// retries are exhausted.
type Handler func(ctx context.Context, env Envelope) error

// Consumer is a durable consumer group subscription over a single
// subject, grounded on the ShopMindAI chat-service's kafka-go reader
// usage, extended with retry/dead-letter bookkeeping.
type Consumer struct {
	brokers     []string
	groupID     string
	subject     string
	deadLetter  string
	reader      *kafka.Reader
	deadWriter  *kafka.Writer
}

// NewConsumer subscribes groupID to subject. deadLetterSubject receives
// messages that exhaust retries.
func NewConsumer(brokers []string, groupID, subject, deadLetterSubject string) *Consumer {
	return &Consumer{
		brokers:    brokers,
		groupID:    groupID,
		subject:    subject,
		deadLetter: deadLetterSubject,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    subject,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		deadWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.Hash{},
		},
	}
}

// Run reads events from the subject and invokes handle for each, acking
// on success and retrying with exponential backoff (base 500ms, cap 30s)
// on failure, moving to the dead-letter subject after maxRetries. Run
// blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("subject", c.subject).Msg("bus fetch failed, backing off")
			if !sleepCtx(ctx, backoffBase) {
				return nil
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Error().Err(err).Str("subject", c.subject).Msg("malformed event envelope, dead-lettering")
			c.deadLetterRaw(ctx, msg)
			c.commit(ctx, msg)
			continue
		}

		if err := c.processWithRetry(ctx, env, handle); err != nil {
			c.deadLetterEnvelope(ctx, env)
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) processWithRetry(ctx context.Context, env Envelope, handle Handler) error {
	backoff := backoffBase
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := handle(ctx, env); err != nil {
			lastErr = err
			log.Warn().Err(err).Str("event_id", env.EventID).Int("attempt", attempt+1).Msg("event handler failed, retrying")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		return nil
	}
	return apperr.Wrap(apperr.KindBusUnavailable, lastErr, "event handler exhausted retries")
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error().Err(err).Msg("failed to commit consumer offset")
	}
}

func (c *Consumer) deadLetterEnvelope(ctx context.Context, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal dead-lettered envelope")
		return
	}
	c.writeDeadLetter(ctx, []byte(env.EventID), body)
}

func (c *Consumer) deadLetterRaw(ctx context.Context, msg kafka.Message) {
	c.writeDeadLetter(ctx, msg.Key, msg.Value)
}

func (c *Consumer) writeDeadLetter(ctx context.Context, key, value []byte) {
	if c.deadLetter == "" {
		return
	}
	if err := c.deadWriter.WriteMessages(ctx, kafka.Message{Topic: c.deadLetter, Key: key, Value: value}); err != nil {
		log.Error().Err(err).Str("dead_letter_subject", c.deadLetter).Msg("failed to write dead-lettered event")
	}
}

func (c *Consumer) Close() error {
	c.deadWriter.Close()
	return c.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
