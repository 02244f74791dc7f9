// Package realtime implements the real-time delivery hub: one
// long-lived SSE connection per client session, fed by the event bus and
// fanned out by recipient set. Grounded on the twitter-clone pkg/sse
// Hub/Client pair (the pack's one genuine SSE-over-HTTP implementation)
// and the porthorian-openchat-backend Hub's per-room subscriber maps for
// the registration/unregistration goroutine shape.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/ids"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultConnectionTimeout = 300 * time.Second
	defaultBufferHighWater   = 1000
)

// Event is one SSE payload the hub writes to a session, schema-versioned
// by Type suffix.
type Event struct {
	ID      string
	Type    string
	ChatID  ids.ChatId
	Payload any
}

// HubConfig tunes the heartbeat/timeout/backpressure policy.
type HubConfig struct {
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	BufferHighWater   int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = defaultConnectionTimeout
	}
	if c.BufferHighWater <= 0 {
		c.BufferHighWater = defaultBufferHighWater
	}
	return c
}

// HubMetrics is the subset of observability.Metrics the hub touches.
type HubMetrics interface {
	ConnectionOpened()
	ConnectionClosed(reason string)
}

// Hub owns every live session on this process. Instances do not share
// state; horizontal scaling shards users across hubs behind a sticky
// load balancer.
type Hub struct {
	cfg HubConfig

	mu       sync.RWMutex
	sessions map[string]*Session // sessionID -> session
	byUser   map[ids.UserId]map[string]*Session
	byChat   map[ids.ChatId]map[string]*Session

	register   chan *Session
	unregister chan *Session

	metrics HubMetrics
}

func NewHub(cfg HubConfig, metrics HubMetrics) *Hub {
	return &Hub{
		cfg:        cfg.withDefaults(),
		sessions:   make(map[string]*Session),
		byUser:     make(map[ids.UserId]map[string]*Session),
		byChat:     make(map[ids.ChatId]map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		metrics:    metrics,
	}
}

// Run drives registration bookkeeping until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		}
	}
}

func (h *Hub) addSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
	if h.byUser[s.userID] == nil {
		h.byUser[s.userID] = make(map[string]*Session)
	}
	h.byUser[s.userID][s.id] = s
	for _, chatID := range s.ChatIDs() {
		if h.byChat[chatID] == nil {
			h.byChat[chatID] = make(map[string]*Session)
		}
		h.byChat[chatID][s.id] = s
	}
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.id)
	if users := h.byUser[s.userID]; users != nil {
		delete(users, s.id)
		if len(users) == 0 {
			delete(h.byUser, s.userID)
		}
	}
	for _, chatID := range s.ChatIDs() {
		if members := h.byChat[chatID]; members != nil {
			delete(members, s.id)
			if len(members) == 0 {
				delete(h.byChat, chatID)
			}
		}
	}
	if h.metrics != nil {
		reason := s.DropReason()
		if reason == "" {
			reason = "client_disconnect"
		}
		h.metrics.ConnectionClosed(reason)
	}
}

// Register admits a new session; it must already have its chat
// subscription set populated.
func (h *Hub) Register(s *Session) { h.register <- s }

// Unregister removes a session.
func (h *Hub) Unregister(s *Session) { h.unregister <- s }

// Subscribe adds chatID to s's live subscription set without
// disconnecting. The bus bridge does not call it: on membership events a
// session's subscription set stays as it was at connect time until the
// client reconnects.
func (h *Hub) Subscribe(s *Session, chatID ids.ChatId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.addChat(chatID)
	if h.byChat[chatID] == nil {
		h.byChat[chatID] = make(map[string]*Session)
	}
	h.byChat[chatID][s.id] = s
}

// UnsubscribeChat removes chatID from s's live subscription set. Like
// Subscribe, it is not called by the bus bridge.
func (h *Hub) UnsubscribeChat(s *Session, chatID ids.ChatId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.removeChat(chatID)
	if members := h.byChat[chatID]; members != nil {
		delete(members, s.id)
	}
}

// FanOut delivers ev to every session whose user is in recipients and
// whose live subscription set includes ev.ChatID, visiting each session at
// most once per call even when a user appears more than once in
// recipients. Dropping already-delivered message ids per session happens
// later, in the SSE write loop.
func (h *Hub) FanOut(ev Event, recipients []ids.UserId) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	for _, uid := range recipients {
		for sid, s := range h.byUser[uid] {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			if !s.hasChat(ev.ChatID) {
				continue
			}
			s.Deliver(ev)
		}
	}
}

// Broadcast delivers ev to every session subscribed to ev.ChatID,
// regardless of recipients (used by the bus bridge for membership-change
// events, whose recipient set is "every subscribed session").
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.byChat[ev.ChatID] {
		s.Deliver(ev)
	}
}

// Shutdown pushes a terminal event to every live session so a connected
// client can tell a graceful restart from a dropped connection, rather
// than just having its stream cut. The session's own write loop closes
// the response after writing it; Shutdown does not close sessions
// itself, so callers should give connections a moment to drain (the
// server-wide shutdown grace) before the listener actually stops.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Deliver(Event{Type: "shutdown", Payload: map[string]any{"reason": "server_shutdown"}})
	}
}

// ConnectionCount reports the number of live sessions, for the
// fechatter_sse_connections gauge.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func marshalOrNull(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal SSE event payload")
		return []byte("null")
	}
	return b
}
