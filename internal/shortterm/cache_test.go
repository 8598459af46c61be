// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package shortterm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/logging"
)

// fakeClock is advanced by tests; miniredis is fast-forwarded alongside it
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type harness struct {
	cache   Cache
	advance func(d time.Duration)
	redis   *miniredis.Miniredis
}

func newRedisHarness(t *testing.T, opts Options) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client, opts)
	t.Cleanup(func() { _ = cache.Close() })
	return harness{cache: cache, advance: mr.FastForward, redis: mr}
}

func newMemoryHarness(t *testing.T, opts Options) harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(opts)
	cache.now = clock.Now
	t.Cleanup(func() { _ = cache.Close() })
	return harness{cache: cache, advance: func(d time.Duration) { clock.t = clock.t.Add(d) }}
}

var backends = map[string]func(*testing.T, Options) harness{
	"redis":  newRedisHarness,
	"memory": newMemoryHarness,
}

func testOptions() Options {
	return Options{Limit: 4, TTL: time.Hour, SessionTimeout: 5 * time.Minute, Logger: logging.Discard()}
}

func TestCache_ChronologicalHistory(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			ctx := context.Background()

			require.NoError(t, h.cache.Append(ctx, 1, RoleUser, "привет"))
			require.NoError(t, h.cache.Append(ctx, 1, RoleAssistant, "привет! как дела?"))
			require.NoError(t, h.cache.Append(ctx, 2, RoleUser, "other user"))

			turns, err := h.cache.History(ctx, 1)
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, RoleUser, turns[0].Role)
			assert.Equal(t, "привет", turns[0].Content)
			assert.Equal(t, RoleAssistant, turns[1].Role)
			assert.NotZero(t, turns[0].Timestamp)
		})
	}
}

func TestCache_EvictsOldestBeyondCap(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			ctx := context.Background()

			for i := 1; i <= 7; i++ {
				require.NoError(t, h.cache.Append(ctx, 1, RoleUser, fmt.Sprintf("m%d", i)))

				turns, err := h.cache.History(ctx, 1)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(turns), 4)
			}

			turns, err := h.cache.History(ctx, 1)
			require.NoError(t, err)
			contents := make([]string, len(turns))
			for i, turn := range turns {
				contents[i] = turn.Content
			}
			assert.Equal(t, []string{"m4", "m5", "m6", "m7"}, contents)
		})
	}
}

func TestCache_TTLRefreshedOnAppend(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			ctx := context.Background()

			require.NoError(t, h.cache.Append(ctx, 1, RoleUser, "first"))
			h.advance(50 * time.Minute)
			require.NoError(t, h.cache.Append(ctx, 1, RoleAssistant, "second"))
			h.advance(50 * time.Minute)

			turns, err := h.cache.History(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, turns, 2)

			h.advance(11 * time.Minute)
			turns, err = h.cache.History(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestCache_Clear(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			ctx := context.Background()

			require.NoError(t, h.cache.Append(ctx, 1, RoleUser, "hello"))
			require.NoError(t, h.cache.Clear(ctx, 1))

			turns, err := h.cache.History(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestCache_ChatSession(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			ctx := context.Background()

			assert.False(t, h.cache.IsChatting(ctx, 1))

			require.NoError(t, h.cache.SetChatting(ctx, 1, true))
			assert.True(t, h.cache.IsChatting(ctx, 1))

			h.advance(6 * time.Minute)
			assert.False(t, h.cache.IsChatting(ctx, 1))

			require.NoError(t, h.cache.SetChatting(ctx, 1, true))
			require.NoError(t, h.cache.SetChatting(ctx, 1, false))
			assert.False(t, h.cache.IsChatting(ctx, 1))
		})
	}
}

func TestCache_RejectsUnknownRole(t *testing.T) {
	for name, newHarness := range backends {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			assert.Error(t, h.cache.Append(context.Background(), 1, "system", "x"))
		})
	}
}

func TestRedisCache_KeyLayout(t *testing.T) {
	h := newRedisHarness(t, testOptions())
	ctx := context.Background()

	require.NoError(t, h.cache.Append(ctx, 77, RoleUser, "hi"))
	require.NoError(t, h.cache.SetChatting(ctx, 77, true))

	assert.True(t, h.redis.Exists("chat_history:77"))
	assert.Equal(t, time.Hour, h.redis.TTL("chat_history:77"))
	assert.Equal(t, 5*time.Minute, h.redis.TTL("chat_state:77"))

	state, err := h.redis.Get("chat_state:77")
	require.NoError(t, err)
	assert.Equal(t, "1", state)
}

func TestRedisCache_SkipsMalformedEntries(t *testing.T) {
	h := newRedisHarness(t, testOptions())
	ctx := context.Background()

	require.NoError(t, h.cache.Append(ctx, 5, RoleUser, "ok"))
	_, err := h.redis.Lpush("chat_history:5", "{not json")
	require.NoError(t, err)

	turns, err := h.cache.History(ctx, 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "ok", turns[0].Content)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	cache, err := NewFromConfig(ctx, config.CacheConfig{Backend: "memory", HistoryLimit: 10}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, cache)

	mr := miniredis.RunT(t)
	cache, err = NewFromConfig(ctx, config.CacheConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr() + "/0"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, cache)
	require.NoError(t, cache.Close())

	_, err = NewFromConfig(ctx, config.CacheConfig{Backend: "memcached"}, logging.Discard())
	assert.Error(t, err)
}

func TestMemoryCache_SweepDropsIdleUsers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(testOptions())
	cache.now = clock.Now
	defer cache.Close()

	require.NoError(t, cache.Append(ctx, 1, RoleUser, "привет"))
	require.NoError(t, cache.SetChatting(ctx, 1, true))
	clock.t = clock.t.Add(30 * time.Minute)
	require.NoError(t, cache.Append(ctx, 2, RoleUser, "hi"))

	assert.Equal(t, 1, cache.Sweep(), "only user 1's session has expired")

	clock.t = clock.t.Add(45 * time.Minute)
	assert.Equal(t, 1, cache.Sweep(), "user 1's history has now expired")

	cache.mu.Lock()
	_, keptHistory := cache.history[2]
	assert.Len(t, cache.history, 1)
	assert.Empty(t, cache.sessions)
	cache.mu.Unlock()
	assert.True(t, keptHistory)
}

func TestMemoryCache_BackgroundSweep(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.TTL = 10 * time.Millisecond
	opts.SessionTimeout = 10 * time.Millisecond
	opts.SweepInterval = 5 * time.Millisecond
	cache := NewMemoryCache(opts)
	defer cache.Close()

	require.NoError(t, cache.Append(ctx, 1, RoleUser, "привет"))
	require.NoError(t, cache.SetChatting(ctx, 1, true))

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.history) == 0 && len(cache.sessions) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	cache := NewMemoryCache(testOptions())
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}
