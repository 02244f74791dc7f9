// Package cache implements the cache-aside facade over Redis, grounded
// on the ShopMindAI chat-service's CacheManager (hit/miss counters, stampede
// guard) but adapted to go-redis/v9 and this service's own key/TTL policy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/ids"
)

// Per-key TTLs.
const (
	ttlUserProfile  = 5 * time.Minute
	ttlChatMembers  = 5 * time.Minute
	ttlUserChats    = 1 * time.Minute
	ttlMessagePage  = 30 * time.Second
)

// Cache wraps a redis client. A disabled Cache (New("")) or one backed by
// an unreachable server degrades every operation to a cache miss rather
// than failing the caller. Methods must not be called on a nil *Cache.
type Cache struct {
	client  *redis.Client
	enabled bool
}

// New dials addr. If addr is empty the cache is disabled outright and every
// Get/Set call becomes a no-op.
func New(addr string) *Cache {
	if addr == "" {
		return &Cache{enabled: false}
	}
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr}), enabled: true}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.enabled {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("cache get failed, degrading to miss")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache value corrupt, degrading to miss")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.enabled {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache value not serializable, skipping set")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set failed, continuing without cache")
	}
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if !c.enabled || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache eviction failed")
	}
}

func userProfileKey(u ids.UserId) string  { return fmt.Sprintf("user_profile:%s", u) }
func chatMembersKey(c ids.ChatId) string  { return fmt.Sprintf("chat_members:%s", c) }
func userChatsKey(u ids.UserId) string    { return fmt.Sprintf("user_chats:%s", u) }
func messagePageKey(chatID ids.ChatId, beforeID ids.MessageId, limit int) string {
	return fmt.Sprintf("message_page:%s:%s:%d", chatID, beforeID, limit)
}

// GetUserProfile / SetUserProfile cache the (dest must be a pointer) user
// profile projection served to other users.
func (c *Cache) GetUserProfile(ctx context.Context, u ids.UserId, dest any) bool {
	return c.get(ctx, userProfileKey(u), dest)
}

func (c *Cache) SetUserProfile(ctx context.Context, u ids.UserId, value any) {
	c.set(ctx, userProfileKey(u), value, ttlUserProfile)
}

func (c *Cache) EvictUserProfile(ctx context.Context, u ids.UserId) {
	c.evict(ctx, userProfileKey(u))
}

// GetChatMembers / SetChatMembers cache the membership set the chat
// membership middleware consults on every chat-scoped request.
func (c *Cache) GetChatMembers(ctx context.Context, chatID ids.ChatId, dest any) bool {
	return c.get(ctx, chatMembersKey(chatID), dest)
}

func (c *Cache) SetChatMembers(ctx context.Context, chatID ids.ChatId, value any) {
	c.set(ctx, chatMembersKey(chatID), value, ttlChatMembers)
}

func (c *Cache) EvictChatMembers(ctx context.Context, chatID ids.ChatId) {
	c.evict(ctx, chatMembersKey(chatID))
}

// GetUserChats / SetUserChats cache list_user_chats results.
func (c *Cache) GetUserChats(ctx context.Context, u ids.UserId, dest any) bool {
	return c.get(ctx, userChatsKey(u), dest)
}

func (c *Cache) SetUserChats(ctx context.Context, u ids.UserId, value any) {
	c.set(ctx, userChatsKey(u), value, ttlUserChats)
}

func (c *Cache) EvictUserChats(ctx context.Context, u ids.UserId) {
	c.evict(ctx, userChatsKey(u))
}

// GetMessagePage / SetMessagePage cache a single page of message history.
func (c *Cache) GetMessagePage(ctx context.Context, chatID ids.ChatId, beforeID ids.MessageId, limit int, dest any) bool {
	return c.get(ctx, messagePageKey(chatID, beforeID, limit), dest)
}

func (c *Cache) SetMessagePage(ctx context.Context, chatID ids.ChatId, beforeID ids.MessageId, limit int, value any) {
	c.set(ctx, messagePageKey(chatID, beforeID, limit), value, ttlMessagePage)
}

// EvictChatMessagePages evicts cached message pages for a chat. Since page
// keys are parameterized by before_id/limit, this uses a scan rather than
// a direct key — acceptable because invalidation here is explicitly
// best-effort.
func (c *Cache) EvictChatMessagePages(ctx context.Context, chatID ids.ChatId) {
	if !c.enabled {
		return
	}
	pattern := fmt.Sprintf("message_page:%s:*", chatID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID.String()).Msg("cache scan failed during invalidation")
		return
	}
	c.evict(ctx, keys...)
}

// Ping reports cache reachability for the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
