// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package shortterm

import (
	"context"
	"sync"
	"time"
)

type history struct {
	turns   []Turn // oldest first
	expires time.Time
}

type session struct {
	chatting bool
	expires  time.Time
}

// MemoryCache is the in-process Cache for tests and single-node setups.
// Expired entries are dropped on access and by a background sweep every
// SweepInterval until Close.
type MemoryCache struct {
	mu        sync.Mutex
	opts      Options
	history   map[int64]*history
	sessions  map[int64]session
	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates an empty cache and starts its sweeper
func NewMemoryCache(opts Options) *MemoryCache {
	c := &MemoryCache{
		opts:     opts.withDefaults(),
		history:  make(map[int64]*history),
		sessions: make(map[int64]session),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Append adds a turn, evicting the oldest beyond the cap
func (c *MemoryCache) Append(_ context.Context, userID int64, role, content string) error {
	if err := validRole(role); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	h := c.live(userID, now)
	if h == nil {
		h = &history{}
		c.history[userID] = h
	}
	h.turns = append(h.turns, Turn{Role: role, Content: content, Timestamp: now.Unix()})
	if over := len(h.turns) - c.opts.Limit; over > 0 {
		h.turns = append([]Turn(nil), h.turns[over:]...)
	}
	h.expires = now.Add(c.opts.TTL)
	return nil
}

// History returns a copy of the user's turns, oldest first
func (c *MemoryCache) History(_ context.Context, userID int64) ([]Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.live(userID, c.now())
	if h == nil {
		return []Turn{}, nil
	}
	return append([]Turn(nil), h.turns...), nil
}

// Clear drops the user's history
func (c *MemoryCache) Clear(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, userID)
	return nil
}

// SetChatting stores the session flag with the session timeout
func (c *MemoryCache) SetChatting(_ context.Context, userID int64, chatting bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = session{chatting: chatting, expires: c.now().Add(c.opts.SessionTimeout)}
	return nil
}

// IsChatting reports whether the session flag is set and unexpired
func (c *MemoryCache) IsChatting(_ context.Context, userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[userID]
	if !ok {
		return false
	}
	if !c.now().Before(s.expires) {
		delete(c.sessions, userID)
		return false
	}
	return s.chatting
}

// Sweep drops every expired history and session and reports how many
// entries were removed
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, h := range c.history {
		if !now.Before(h.expires) {
			delete(c.history, id)
			removed++
		}
	}
	for id, s := range c.sessions {
		if !now.Before(s.expires) {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.opts.Logger.Debug("expired entries swept", "removed", n)
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

// live returns the user's history unless it has expired. Caller holds mu.
func (c *MemoryCache) live(userID int64, now time.Time) *history {
	h, ok := c.history[userID]
	if !ok {
		return nil
	}
	if !now.Before(h.expires) {
		delete(c.history, userID)
		return nil
	}
	return h
}

var _ Cache = (*MemoryCache)(nil)
