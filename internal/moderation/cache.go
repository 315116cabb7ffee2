package moderation

import (
	"sync"
	"time"
)

type cacheEntry struct {
	msg        Message
	insertedAt time.Time
}

// ChannelCache is a bounded, TTL-based store of recent messages for one
// channel. Eviction happens two ways: capacity drops the oldest entry on
// insert, and expired entries are filtered out lazily on read.
type ChannelCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  []cacheEntry
	ids      map[string]struct{}
	now      func() time.Time
}

// NewChannelCache returns a cache holding at most capacity messages, each
// valid for ttl after insertion.
func NewChannelCache(capacity int, ttl time.Duration) *ChannelCache {
	if capacity <= 0 {
		capacity = 12
	}
	return &ChannelCache{
		capacity: capacity,
		ttl:      ttl,
		ids:      make(map[string]struct{}),
		now:      time.Now,
	}
}

// Add inserts a message unless its id is already present. When the cache is
// full the oldest entry is dropped and its id forgotten.
func (c *ChannelCache) Add(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[msg.ID]; ok {
		return
	}
	c.entries = append(c.entries, cacheEntry{msg: msg, insertedAt: c.now()})
	c.ids[msg.ID] = struct{}{}

	for len(c.entries) > c.capacity {
		delete(c.ids, c.entries[0].msg.ID)
		c.entries = c.entries[1:]
	}
}

// Remove drops a message by id, returning whether it was present.
func (c *ChannelCache) Remove(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[messageID]; !ok {
		return false
	}
	delete(c.ids, messageID)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.msg.ID != messageID {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	return true
}

// ValidMessages returns every message still within TTL, oldest first, and
// drops the expired ones from the cache.
func (c *ChannelCache) ValidMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	valid := make([]Message, 0, len(c.entries))
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.insertedAt.Before(cutoff) {
			delete(c.ids, e.msg.ID)
			continue
		}
		kept = append(kept, e)
		valid = append(valid, e.msg)
	}
	c.entries = kept
	return valid
}

// Len returns the number of entries currently held, expired or not.
func (c *ChannelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear empties the cache.
func (c *ChannelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.ids = make(map[string]struct{})
}

// HistoryCache maps channel ids to their caches, creating them on demand.
type HistoryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	channels map[string]*ChannelCache
}

// NewHistoryCache returns a cache manager applying the same capacity and TTL
// to every channel.
func NewHistoryCache(capacity int, ttl time.Duration) *HistoryCache {
	return &HistoryCache{
		capacity: capacity,
		ttl:      ttl,
		channels: make(map[string]*ChannelCache),
	}
}

// Channel returns the cache for channelID, creating it if needed.
func (h *HistoryCache) Channel(channelID string) *ChannelCache {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[channelID]
	if !ok {
		c = NewChannelCache(h.capacity, h.ttl)
		h.channels[channelID] = c
	}
	return c
}

// Add inserts a message into its channel's cache.
func (h *HistoryCache) Add(msg Message) {
	h.Channel(msg.ChannelID).Add(msg)
}

// Remove drops a message from a channel's cache if present.
func (h *HistoryCache) Remove(channelID, messageID string) bool {
	h.mu.Lock()
	c, ok := h.channels[channelID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return c.Remove(messageID)
}

// History returns the still-valid cached messages for a channel.
func (h *HistoryCache) History(channelID string) []Message {
	h.mu.Lock()
	c, ok := h.channels[channelID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return c.ValidMessages()
}
