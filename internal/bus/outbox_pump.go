package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/store"
)

// OutboxPump drains the transactional outbox in id order and publishes
// each row to the bus, marking it sent on success. It is what makes a
// crash between commit and publish recoverable: the row survives the
// crash and gets published on the next pump tick.
type OutboxPump struct {
	outbox    *store.OutboxRepo
	publisher *Publisher
	interval  time.Duration
	batchSize int
}

func NewOutboxPump(outbox *store.OutboxRepo, publisher *Publisher, interval time.Duration, batchSize int) *OutboxPump {
	return &OutboxPump{outbox: outbox, publisher: publisher, interval: interval, batchSize: batchSize}
}

var eventTypeSubject = map[string]string{
	"MessageCreated": SubjectMessageCreated,
	"MessageEdited":  SubjectMessageEdited,
	"MessageDeleted": SubjectMessageDeleted,
}

// shutdownDrainBudget bounds the one last drain Run attempts once ctx is
// cancelled, so a stalled broker can't hold up process exit past the
// server's overall shutdown grace.
const shutdownDrainBudget = 5 * time.Second

// Run polls the outbox every interval until ctx is cancelled, then makes
// one bounded final attempt to flush whatever is pending so rows written
// just before shutdown aren't stranded until the next restart.
func (p *OutboxPump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.drainOnShutdown()
			return
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				log.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

func (p *OutboxPump) drainOnShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainBudget)
	defer cancel()
	if err := p.drainOnce(ctx); err != nil {
		log.Error().Err(err).Msg("outbox shutdown drain failed")
	}
}

func (p *OutboxPump) drainOnce(ctx context.Context) error {
	rows, err := p.outbox.Pending(ctx, p.batchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		subject, ok := eventTypeSubject[row.EventType]
		if !ok {
			log.Error().Str("event_type", row.EventType).Msg("unknown outbox event type, skipping")
			continue
		}
		var payload json.RawMessage = row.Payload
		err := p.publisher.Publish(ctx, subject, row.ChatID.String(), row.EventType, payload, Trace{}, nil, row.CreatedAt.UnixNano())
		if err != nil {
			log.Warn().Err(err).Int64("outbox_id", row.ID).Msg("publish failed, will retry next drain")
			continue
		}
		if err := p.outbox.MarkSent(ctx, row.ID); err != nil {
			log.Error().Err(err).Int64("outbox_id", row.ID).Msg("failed to mark outbox row sent")
		}
	}
	return nil
}
