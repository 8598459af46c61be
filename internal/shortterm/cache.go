// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package shortterm holds the recent-turns window of each conversation: a
// capped, expiring, per-user log of chat turns, plus the chat-session flag.
package shortterm

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/companion-memory/internal/config"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults applied when Options leaves a field zero
const (
	DefaultLimit          = 50
	DefaultTTL            = 24 * time.Hour
	DefaultSessionTimeout = 5 * time.Minute
)

// Turn is one cached chat message
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Cache is the short-term conversation store. History is chronological;
// after any Append it holds at most the configured number of turns.
type Cache interface {
	Append(ctx context.Context, userID int64, role, content string) error
	History(ctx context.Context, userID int64) ([]Turn, error)
	Clear(ctx context.Context, userID int64) error
	SetChatting(ctx context.Context, userID int64, chatting bool) error
	IsChatting(ctx context.Context, userID int64) bool
	Close() error
}

// Options bounds a cache
type Options struct {
	Limit          int
	TTL            time.Duration
	SessionTimeout time.Duration
	// SweepInterval is how often MemoryCache drops expired entries.
	// Defaults to SessionTimeout. Redis expires keys itself.
	SweepInterval time.Duration
	Logger        *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = o.SessionTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	o.Logger = o.Logger.With("component", "shortterm")
	return o
}

// NewFromConfig builds the configured cache backend
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, logger *log.Logger) (Cache, error) {
	opts := Options{
		Limit:          cfg.HistoryLimit,
		TTL:            cfg.TTL(),
		SessionTimeout: cfg.SessionTimeout(),
		Logger:         logger,
	}
	switch cfg.Backend {
	case config.CacheBackendRedis:
		return NewRedisCache(ctx, cfg.RedisURL, opts)
	case config.CacheBackendMemory:
		return NewMemoryCache(opts), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

func validRole(role string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid turn role %q", role)
	}
	return nil
}

func historyKey(userID int64) string {
	return fmt.Sprintf("chat_history:%d", userID)
}

func stateKey(userID int64) string {
	return fmt.Sprintf("chat_state:%d", userID)
}
