package cache

import (
	"context"
	"testing"

	"github.com/fechatter/fechatter-go/internal/ids"
)

func TestCache_Disabled_EveryGetIsAMiss(t *testing.T) {
	c := New("")
	ctx := context.Background()

	var dest map[string]string
	if c.GetUserProfile(ctx, ids.UserId(1), &dest) {
		t.Error("expected a disabled cache to always report a miss")
	}
	if c.GetChatMembers(ctx, ids.ChatId(1), &dest) {
		t.Error("expected a disabled cache to always report a miss")
	}
	if c.GetUserChats(ctx, ids.UserId(1), &dest) {
		t.Error("expected a disabled cache to always report a miss")
	}
	if c.GetMessagePage(ctx, ids.ChatId(1), ids.MessageId(0), 50, &dest) {
		t.Error("expected a disabled cache to always report a miss")
	}
}

func TestCache_Disabled_SetAndEvictAreNoOps(t *testing.T) {
	c := New("")
	ctx := context.Background()

	c.SetUserProfile(ctx, ids.UserId(1), map[string]string{"name": "Ada"})
	c.SetChatMembers(ctx, ids.ChatId(1), []int{1, 2, 3})
	c.SetUserChats(ctx, ids.UserId(1), []int{1})
	c.SetMessagePage(ctx, ids.ChatId(1), ids.MessageId(0), 50, []int{1})
	c.EvictUserProfile(ctx, ids.UserId(1))
	c.EvictChatMembers(ctx, ids.ChatId(1))
	c.EvictUserChats(ctx, ids.UserId(1))
	c.EvictChatMessagePages(ctx, ids.ChatId(1))

	var dest map[string]string
	if c.GetUserProfile(ctx, ids.UserId(1), &dest) {
		t.Error("a disabled cache must not actually persist anything set against it")
	}
}

func TestCache_Disabled_PingReportsHealthy(t *testing.T) {
	c := New("")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("expected a disabled cache to report healthy (degrading gracefully), got %v", err)
	}
}

func TestCacheKeys_AreStableAndNamespaced(t *testing.T) {
	if got, want := userProfileKey(ids.UserId(42)), "user_profile:42"; got != want {
		t.Errorf("userProfileKey: got %q want %q", got, want)
	}
	if got, want := chatMembersKey(ids.ChatId(7)), "chat_members:7"; got != want {
		t.Errorf("chatMembersKey: got %q want %q", got, want)
	}
	if got, want := userChatsKey(ids.UserId(3)), "user_chats:3"; got != want {
		t.Errorf("userChatsKey: got %q want %q", got, want)
	}
	if got, want := messagePageKey(ids.ChatId(1), ids.MessageId(99), 20), "message_page:1:99:20"; got != want {
		t.Errorf("messagePageKey: got %q want %q", got, want)
	}
}
