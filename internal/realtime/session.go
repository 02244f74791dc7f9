package realtime

import (
	"sync"

	"github.com/fechatter/fechatter-go/internal/ids"
)

// Session is one client's live SSE connection: a per-connection outbound
// buffer, the chat subscription set, and per-chat dedup state.
type Session struct {
	id     string
	userID ids.UserId

	mu       sync.RWMutex
	chats    map[ids.ChatId]bool
	lastSeen map[ids.ChatId]ids.MessageId

	outbound chan Event
	closed   chan struct{}
	once     sync.Once

	dropReason string
}

// NewSession creates a session for userID subscribed to the given initial
// chat set, with an outbound buffer capped at bufferHighWater events.
func NewSession(id string, userID ids.UserId, initialChats []ids.ChatId, bufferHighWater int) *Session {
	s := &Session{
		id:       id,
		userID:   userID,
		chats:    make(map[ids.ChatId]bool, len(initialChats)),
		lastSeen: make(map[ids.ChatId]ids.MessageId),
		outbound: make(chan Event, bufferHighWater),
		closed:   make(chan struct{}),
	}
	for _, c := range initialChats {
		s.chats[c] = true
	}
	return s
}

// ChatIDs returns a snapshot of the current subscription set.
func (s *Session) ChatIDs() []ids.ChatId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ChatId, 0, len(s.chats))
	for c := range s.chats {
		out = append(out, c)
	}
	return out
}

func (s *Session) hasChat(c ids.ChatId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats[c]
}

func (s *Session) addChat(c ids.ChatId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c] = true
}

func (s *Session) removeChat(c ids.ChatId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, c)
	delete(s.lastSeen, c)
}

// dedupMessage reports whether messageID for chatID has already been
// delivered on this session (at-least-once bus redelivery). A zero
// messageID (non-message events) is never deduped.
func (s *Session) dedupMessage(chatID ids.ChatId, messageID ids.MessageId) (duplicate bool) {
	if messageID.Zero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSeen[chatID]; ok && messageID <= last {
		return true
	}
	s.lastSeen[chatID] = messageID
	return false
}

// Deliver enqueues ev for this session's writer goroutine. If the
// outbound buffer is already full the session is marked SlowConsumer and
// Close is triggered; the event is dropped.
func (s *Session) Deliver(ev Event) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.outbound <- ev:
	default:
		s.Close("slow_consumer")
	}
}

// Close terminates the session's writer loop with reason, idempotently.
func (s *Session) Close(reason string) {
	s.once.Do(func() {
		s.dropReason = reason
		close(s.closed)
	})
}

// DropReason returns why the session was closed, empty if it ended
// cleanly (client disconnect / context cancellation).
func (s *Session) DropReason() string { return s.dropReason }
