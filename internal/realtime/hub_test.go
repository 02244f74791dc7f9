package realtime

import (
	"testing"
	"time"

	"github.com/fechatter/fechatter-go/internal/ids"
)

type fakeMetrics struct {
	opened int
	closed []string
}

func (m *fakeMetrics) ConnectionOpened()          { m.opened++ }
func (m *fakeMetrics) ConnectionClosed(r string)  { m.closed = append(m.closed, r) }

func drain(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.outbound:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered event")
		return Event{}
	}
}

func TestHub_FanOut_DeliversToSubscribedRecipientOnly(t *testing.T) {
	h := NewHub(HubConfig{}, &fakeMetrics{})
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	alice := NewSession("s-alice", ids.UserId(1), []ids.ChatId{ids.ChatId(10)}, 8)
	bob := NewSession("s-bob", ids.UserId(2), []ids.ChatId{ids.ChatId(20)}, 8)
	h.Register(alice)
	h.Register(bob)
	waitUntil(t, func() bool { return h.ConnectionCount() == 2 })

	h.FanOut(Event{ID: "1", Type: "new_message", ChatID: ids.ChatId(10)}, []ids.UserId{1, 2})

	ev := drain(t, alice)
	if ev.ChatID != ids.ChatId(10) {
		t.Errorf("expected alice to receive the chat-10 event, got %+v", ev)
	}
	select {
	case ev := <-bob.outbound:
		t.Fatalf("expected bob (not subscribed to chat 10) to receive nothing, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FanOut_DedupesMultiSessionRecipient(t *testing.T) {
	h := NewHub(HubConfig{}, &fakeMetrics{})
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	// Two sessions, same user, same chat (e.g. two open tabs).
	s1 := NewSession("s1", ids.UserId(1), []ids.ChatId{ids.ChatId(5)}, 8)
	s2 := NewSession("s2", ids.UserId(1), []ids.ChatId{ids.ChatId(5)}, 8)
	h.Register(s1)
	h.Register(s2)
	waitUntil(t, func() bool { return h.ConnectionCount() == 2 })

	h.FanOut(Event{ID: "1", ChatID: ids.ChatId(5)}, []ids.UserId{1, 1})

	drain(t, s1)
	drain(t, s2)
	// both sessions still get their own copy; dedup is against sid within
	// one FanOut call to avoid double-counting a user listed twice in the
	// recipient slice, not against cross-session delivery.
	select {
	case ev := <-s1.outbound:
		t.Fatalf("expected s1 to get exactly one copy with user 1 listed twice, got an extra %+v", ev)
	case ev := <-s2.outbound:
		t.Fatalf("expected s2 to get exactly one copy with user 1 listed twice, got an extra %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Subscribe_AllowsLiveSubscriptionWithoutReconnect(t *testing.T) {
	h := NewHub(HubConfig{}, &fakeMetrics{})
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	s := NewSession("s1", ids.UserId(1), nil, 8)
	h.Register(s)
	waitUntil(t, func() bool { return h.ConnectionCount() == 1 })

	h.FanOut(Event{ID: "1", ChatID: ids.ChatId(99)}, []ids.UserId{1})
	select {
	case <-s.outbound:
		t.Fatal("expected no delivery before subscribing to chat 99")
	case <-time.After(50 * time.Millisecond):
	}

	h.Subscribe(s, ids.ChatId(99))
	h.FanOut(Event{ID: "2", ChatID: ids.ChatId(99)}, []ids.UserId{1})
	drain(t, s)
}

func TestHub_Broadcast_IgnoresRecipientSet(t *testing.T) {
	h := NewHub(HubConfig{}, &fakeMetrics{})
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	s := NewSession("s1", ids.UserId(1), []ids.ChatId{ids.ChatId(3)}, 8)
	h.Register(s)
	waitUntil(t, func() bool { return h.ConnectionCount() == 1 })

	h.Broadcast(Event{ID: "1", ChatID: ids.ChatId(3)})
	drain(t, s)
}

func TestHub_Deliver_SlowConsumerClosesSession(t *testing.T) {
	h := NewHub(HubConfig{}, &fakeMetrics{})
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	s := NewSession("s1", ids.UserId(1), []ids.ChatId{ids.ChatId(1)}, 1)
	h.Register(s)
	waitUntil(t, func() bool { return h.ConnectionCount() == 1 })

	// Fill the 1-slot buffer, then overflow it.
	h.FanOut(Event{ID: "1", ChatID: ids.ChatId(1)}, []ids.UserId{1})
	h.FanOut(Event{ID: "2", ChatID: ids.ChatId(1)}, []ids.UserId{1})

	select {
	case <-s.closed:
	case <-time.After(time.Second):
		t.Fatal("expected session to be closed after its buffer overflowed")
	}
	if s.DropReason() != "slow_consumer" {
		t.Errorf("expected drop reason slow_consumer, got %q", s.DropReason())
	}
}

func TestHub_RemoveSession_ReportsDropReasonToMetrics(t *testing.T) {
	m := &fakeMetrics{}
	h := NewHub(HubConfig{}, m)
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	s := NewSession("s1", ids.UserId(1), nil, 8)
	h.Register(s)
	waitUntil(t, func() bool { return h.ConnectionCount() == 1 })

	h.Unregister(s)
	waitUntil(t, func() bool { return h.ConnectionCount() == 0 })

	if m.opened != 1 {
		t.Errorf("expected 1 connection opened, got %d", m.opened)
	}
	if len(m.closed) != 1 || m.closed[0] != "client_disconnect" {
		t.Errorf("expected a single client_disconnect close reason, got %+v", m.closed)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
