// Package bus abstracts the durable, partitioned event bus over
// segmentio/kafka-go (seen in the ShopMindAI chat-service handlers).
// Subjects map onto Kafka topics;
// partition keys map onto Kafka message keys so the broker's
// per-partition ordering guarantee becomes the chat ordering contract.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

// Subject names, versioned hierarchically.
const (
	SubjectMessageCreated = "fechatter.messages.message.created.v1"
	SubjectMessageEdited  = "fechatter.messages.message.edited.v1"
	SubjectMessageDeleted = "fechatter.messages.message.deleted.v1"
	SubjectMemberJoined   = "fechatter.chats.member.joined.v1"
	SubjectMemberLeft     = "fechatter.chats.member.left.v1"
	SubjectChatCreated    = "fechatter.chats.created.v1"
)

// Trace carries request correlation through the event envelope.
type Trace struct {
	RequestID   string `json:"request_id,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	WorkspaceID int64  `json:"workspace_id,omitempty"`
}

// Envelope wraps every event published to the bus.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	Trace      Trace           `json:"trace,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Recipients []int64         `json:"recipients,omitempty"`
	Version    int64           `json:"version,omitempty"`
}

// Publisher publishes durable, partitioned events. Brokers is a list of
// bootstrap addresses; the writer is shared across subjects and
// distinguishes topics per call.
type Publisher struct {
	brokers []string
	writer  *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // partition by key, preserving per-chat order
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish writes one envelope to subject, partitioned by partitionKey
// (the chat_id for message events). Blocks until durably accepted.
func (p *Publisher) Publish(ctx context.Context, subject string, partitionKey string, eventType string, payload any, trace Trace, recipients []int64, version int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshal event payload")
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		Trace:      trace,
		Payload:    raw,
		Recipients: recipients,
		Version:    version,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshal event envelope")
	}

	msg := kafka.Message{
		Topic: subject,
		Key:   []byte(partitionKey),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperr.Wrap(apperr.KindBusUnavailable, err, "publish event")
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
