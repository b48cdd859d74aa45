package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"parcelchat/internal/domain"
)

// Cache is the fast tier over Redis. Key schema:
//
//	chat:messages:{conv}         zset of message JSON scored by send-time millis
//	chat:messages:backup:{conv}  flush snapshot of the above
//	conversation:unseen:{conv}   hash recipient id -> unseen count
//	conversation:lastMessage:{conv}  preview JSON, bounded TTL
//	conv:update:lock:{conv}      directory-flush scheduling lock
//	user:{id}                    hash of cached profile fields
//	conversation:list:{id}       per-user directory residue, cleared on disconnect
//	agent:{id}:location          location JSON, bounded TTL
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

var (
	_ domain.MessageCache   = (*Cache)(nil)
	_ domain.DirectoryCache = (*Cache)(nil)
	_ domain.ProfileCache   = (*Cache)(nil)
	_ domain.LocationCache  = (*Cache)(nil)
)

func messagesKey(conversationID string) string {
	return "chat:messages:" + conversationID
}

func backupKey(conversationID string) string {
	return "chat:messages:backup:" + conversationID
}

func unseenKey(conversationID string) string {
	return "conversation:unseen:" + conversationID
}

func previewKey(conversationID string) string {
	return "conversation:lastMessage:" + conversationID
}

func lockKey(conversationID string) string {
	return "conv:update:lock:" + conversationID
}

func profileKey(userID string) string {
	return "user:" + userID
}

func listKey(userID string) string {
	return "conversation:list:" + userID
}

func locationKey(agentID string) string {
	return "agent:" + agentID + ":location"
}

// ── message buffer ───────────────────────────────────────────────────────────

func (c *Cache) Append(ctx context.Context, conversationID string, m *domain.Message) error {
	key := messagesKey(conversationID)

	// Self-heal: if the key holds a stale non-zset value, drop it before
	// appending.
	keyType, err := c.rdb.Type(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("type %s: %w", key, err)
	}
	if keyType != "zset" && keyType != "none" {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(m.CreatedAt.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (c *Cache) Count(ctx context.Context, conversationID string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, messagesKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (c *Cache) Page(ctx context.Context, conversationID string, start, stop int64) ([]*domain.Message, error) {
	raw, err := c.rdb.ZRevRange(ctx, messagesKey(conversationID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}
	return unmarshalMessages(raw)
}

// Snapshot returns the buffer to flush. A surviving backup from a failed
// flush wins over the live buffer, which may have changed since.
func (c *Cache) Snapshot(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	bkey := backupKey(conversationID)

	exists, err := c.rdb.Exists(ctx, bkey).Result()
	if err != nil {
		return nil, fmt.Errorf("check backup: %w", err)
	}
	if exists > 0 {
		raw, err := c.rdb.ZRevRange(ctx, bkey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read backup: %w", err)
		}
		return unmarshalMessages(raw)
	}

	entries, err := c.rdb.ZRevRangeWithScores(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read live buffer: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	zs := make([]redis.Z, len(entries))
	copy(zs, entries)
	if err := c.rdb.ZAdd(ctx, bkey, zs...).Err(); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	raw := make([]string, 0, len(entries))
	for _, e := range entries {
		s, ok := e.Member.(string)
		if !ok {
			continue
		}
		raw = append(raw, s)
	}
	return unmarshalMessages(raw)
}

func (c *Cache) Clear(ctx context.Context, conversationID string) error {
	if err := c.rdb.Del(ctx, messagesKey(conversationID), backupKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}
	return nil
}

// ── directory cache ──────────────────────────────────────────────────────────

func (c *Cache) SetPreview(ctx context.Context, conversationID string, p *domain.Preview, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preview: %w", err)
	}
	return c.rdb.Set(ctx, previewKey(conversationID), data, ttl).Err()
}

func (c *Cache) Preview(ctx context.Context, conversationID string) (*domain.Preview, error) {
	val, err := c.rdb.Get(ctx, previewKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preview: %w", err)
	}
	var p domain.Preview
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("unmarshal preview: %w", err)
	}
	return &p, nil
}

func (c *Cache) ClearPreview(ctx context.Context, conversationID string) error {
	return c.rdb.Del(ctx, previewKey(conversationID)).Err()
}

func (c *Cache) IncrUnseen(ctx context.Context, conversationID, userID string) error {
	return c.rdb.HIncrBy(ctx, unseenKey(conversationID), userID, 1).Err()
}

func (c *Cache) Unseen(ctx context.Context, conversationID, userID string) (int, bool, error) {
	val, err := c.rdb.HGet(ctx, unseenKey(conversationID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get unseen: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("parse unseen: %w", err)
	}
	return n, true, nil
}

func (c *Cache) ResetUnseen(ctx context.Context, conversationID, userID string) error {
	return c.rdb.HDel(ctx, unseenKey(conversationID), userID).Err()
}

func (c *Cache) AcquireFlushLock(ctx context.Context, conversationID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(conversationID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire flush lock: %w", err)
	}
	return ok, nil
}

func (c *Cache) ReleaseFlushLock(ctx context.Context, conversationID string) error {
	return c.rdb.Del(ctx, lockKey(conversationID)).Err()
}

// ── profile cache ────────────────────────────────────────────────────────────

func (c *Cache) Store(ctx context.Context, u *domain.User) error {
	avatar := ""
	if u.Avatar != nil {
		avatar = *u.Avatar
	}
	return c.rdb.HSet(ctx, profileKey(u.ID), map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"avatar":   avatar,
	}).Err()
}

func (c *Cache) Get(ctx context.Context, userID string) (*domain.User, error) {
	fields, err := c.rdb.HGetAll(ctx, profileKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	u := &domain.User{
		ID:       fields["id"],
		Username: fields["username"],
	}
	if avatar := fields["avatar"]; avatar != "" {
		u.Avatar = &avatar
	}
	return u, nil
}

// Remove drops the cached profile and any per-user directory residue. Called
// on disconnect; safe to call repeatedly.
func (c *Cache) Remove(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, profileKey(userID), listKey(userID)).Err()
}

// ── agent locations ──────────────────────────────────────────────────────────

func (c *Cache) SetAgentLocation(ctx context.Context, agentID string, loc *domain.AgentLocation, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	return c.rdb.Set(ctx, locationKey(agentID), data, ttl).Err()
}

func (c *Cache) AgentLocation(ctx context.Context, agentID string) (*domain.AgentLocation, error) {
	val, err := c.rdb.Get(ctx, locationKey(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	var loc domain.AgentLocation
	if err := json.Unmarshal([]byte(val), &loc); err != nil {
		return nil, fmt.Errorf("unmarshal location: %w", err)
	}
	return &loc, nil
}

func unmarshalMessages(raw []string) ([]*domain.Message, error) {
	res := make([]*domain.Message, 0, len(raw))
	for _, item := range raw {
		m := &domain.Message{}
		if err := json.Unmarshal([]byte(item), m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		res = append(res, m)
	}
	return res, nil
}
