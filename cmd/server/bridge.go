package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/config"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/realtime"
	"github.com/fechatter/fechatter-go/internal/search"
	"github.com/fechatter/fechatter-go/internal/store"
)

// startBridgeConsumers subscribes the search indexer and the real-time
// hub to the bus as independent durable consumer groups, so a slow or
// down indexer never backpressures message delivery and vice versa.
func startBridgeConsumers(ctx context.Context, cfg *config.Config, hub *realtime.Hub, indexer *search.Indexer) {
	brokers := []string{cfg.Features.Messaging.URL}
	deadLetter := cfg.Features.Messaging.Stream + ".dead-letter.v1"

	if indexer != nil {
		for _, subject := range []string{bus.SubjectMessageCreated, bus.SubjectMessageEdited, bus.SubjectMessageDeleted} {
			c := bus.NewConsumer(brokers, "indexer.messages", subject, deadLetter)
			go runConsumer(ctx, c, indexer.HandleEvent)
		}
	}

	for _, subject := range []string{bus.SubjectMessageCreated, bus.SubjectMemberJoined, bus.SubjectMemberLeft} {
		c := bus.NewConsumer(brokers, "notifier.messages", subject, deadLetter)
		go runConsumer(ctx, c, func(ctx context.Context, env bus.Envelope) error {
			return fanOutToHub(hub, env)
		})
	}
}

func runConsumer(ctx context.Context, c *bus.Consumer, handle bus.Handler) {
	defer c.Close()
	if err := c.Run(ctx, handle); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("bus consumer stopped")
	}
}

// fanOutToHub turns a bus envelope into a hub delivery. For MessageCreated
// the recipients come from the payload's recipients field (filled in by
// MessageRepo.Send from the chat's membership), so the hub never needs its
// own membership lookup on the hot delivery path.
func fanOutToHub(hub *realtime.Hub, env bus.Envelope) error {
	switch env.EventType {
	case "MessageCreated":
		var p store.MessageCreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		hub.FanOut(realtime.Event{ID: p.ID.String(), Type: "new_message", ChatID: p.ChatID, Payload: p}, p.Recipients)
	case "ChatMemberAdded", "ChatMemberRemoved":
		var p struct {
			ChatID int64 `json:"chat_id"`
			UserID int64 `json:"user_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		// Membership events fan out to every still-subscribed member of
		// the chat; the affected user's own session picks up the new
		// subscription set on its next reconnect.
		hub.Broadcast(realtime.Event{ID: env.EventID, Type: "member_changed", ChatID: ids.ChatId(p.ChatID), Payload: p})
	}
	return nil
}
