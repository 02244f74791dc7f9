package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
)

// MembershipLookup resolves the chats a user currently belongs to,
// cache-through.
type MembershipLookup func(ctx context.Context, userID ids.UserId) ([]ids.ChatId, error)

// ReplayLookup serves gap events for a chat starting strictly after
// lastEventID. The hub applies no bound of its own; the lookup wired in
// cmd/server returns at most 1000 messages per chat, with no time bound.
type ReplayLookup func(ctx context.Context, chatID ids.ChatId, lastEventID string) ([]Event, error)

// Server wires the hub to an HTTP handler implementing the SSE contract,
// following the connection setup and write-loop shape of the
// twitter-clone pkg/sse ServeSSE handler.
type Server struct {
	hub        *Hub
	membership MembershipLookup
	replay     ReplayLookup
}

func NewServer(hub *Hub, membership MembershipLookup, replay ReplayLookup) *Server {
	return &Server{hub: hub, membership: membership, replay: replay}
}

// ServeHTTP authenticates the caller (via the access-verification
// middleware upstream; userID is read from the request context), resolves
// their chat subscription set, and streams events until the client
// disconnects, the session is closed for slow-consumer, or
// ConnectionTimeout passes with nothing written to the stream. Every
// write, heartbeat pings included, restarts that timer and client reads
// are not observed, so while HeartbeatInterval is shorter than
// ConnectionTimeout the timeout does not fire.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request, userID ids.UserId) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	chatIDs, err := s.membership(ctx, userID)
	if err != nil {
		writeSSEError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sessionID := uuid.NewString()
	session := NewSession(sessionID, userID, chatIDs, s.hub.cfg.BufferHighWater)
	s.hub.Register(session)
	defer s.hub.Unregister(session)

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" && s.replay != nil {
		s.replayGap(ctx, session, lastEventID)
	}

	writeEvent(w, flusher, Event{ID: sessionID, Type: "connection_confirmed", Payload: map[string]any{"session_id": sessionID}})

	heartbeat := time.NewTicker(s.hub.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	idleTimeout := time.NewTimer(s.hub.cfg.ConnectionTimeout)
	defer idleTimeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.closed:
			return
		case <-idleTimeout.C:
			session.Close("connection_timeout")
			return
		case <-heartbeat.C:
			writeEvent(w, flusher, Event{Type: "ping"})
			idleTimeout.Reset(s.hub.cfg.ConnectionTimeout)
		case ev := <-session.outbound:
			if ev.Type == "shutdown" {
				writeEvent(w, flusher, ev)
				return
			}
			if ev.Type == "new_message" {
				if mid, ok := messageIDFromPayload(ev.Payload); ok && session.dedupMessage(ev.ChatID, mid) {
					continue
				}
			}
			writeEvent(w, flusher, ev)
			idleTimeout.Reset(s.hub.cfg.ConnectionTimeout)
		}
	}
}

func (s *Server) replayGap(ctx context.Context, session *Session, lastEventID string) {
	for _, chatID := range session.ChatIDs() {
		events, err := s.replay(ctx, chatID, lastEventID)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chatID.String()).Msg("replay lookup failed, resuming live only")
			continue
		}
		for _, ev := range events {
			session.Deliver(ev)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev Event) {
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", marshalOrNull(ev.Payload))
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, err error) {
	if e, ok := apperr.As(err); ok {
		http.Error(w, e.Message, apperr.HTTPStatus(e.Kind))
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func messageIDFromPayload(payload any) (ids.MessageId, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, false
	}
	var probe struct {
		ID ids.MessageId `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, false
	}
	return probe.ID, !probe.ID.Zero()
}
