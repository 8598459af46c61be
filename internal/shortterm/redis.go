// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCache keeps each user's turns in a Redis list, newest at the head
type RedisCache struct {
	client *goredis.Client
	opts   Options
	now    func() time.Time
}

// NewRedisCache connects to redisURL and pings it
func NewRedisCache(ctx context.Context, redisURL string, opts Options) (*RedisCache, error) {
	ropts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return NewRedisCacheFromClient(client, opts), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *goredis.Client, opts Options) *RedisCache {
	return &RedisCache{client: client, opts: opts.withDefaults(), now: time.Now}
}

// Append pushes a turn, trims the list to the cap and refreshes its TTL
func (c *RedisCache) Append(ctx context.Context, userID int64, role, content string) error {
	if err := validRole(role); err != nil {
		return err
	}
	data, err := json.Marshal(Turn{Role: role, Content: content, Timestamp: c.now().Unix()})
	if err != nil {
		return err
	}

	key := historyKey(userID)
	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(c.opts.Limit-1))
		pipe.Expire(ctx, key, c.opts.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cache: append failed: %w", err)
	}
	return nil
}

// History returns the user's turns oldest first. Malformed entries are skipped.
func (c *RedisCache) History(ctx context.Context, userID int64) ([]Turn, error) {
	raw, err := c.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache: history failed: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var t Turn
		if err := json.Unmarshal([]byte(raw[i]), &t); err != nil {
			c.opts.Logger.Warn("skipping malformed turn", "user_id", userID, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear drops the user's history
func (c *RedisCache) Clear(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, historyKey(userID)).Err()
}

// SetChatting stores the session flag with the session timeout
func (c *RedisCache) SetChatting(ctx context.Context, userID int64, chatting bool) error {
	value := "0"
	if chatting {
		value = "1"
	}
	return c.client.Set(ctx, stateKey(userID), value, c.opts.SessionTimeout).Err()
}

// IsChatting reports whether the session flag is set and unexpired
func (c *RedisCache) IsChatting(ctx context.Context, userID int64) bool {
	state, err := c.client.Get(ctx, stateKey(userID)).Result()
	if err == goredis.Nil {
		return false
	}
	if err != nil {
		c.opts.Logger.Error("failed to read chat state", "user_id", userID, "error", err)
		return false
	}
	return state == "1"
}

// Close releases the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
