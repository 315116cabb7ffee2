package moderation

import (
	"log/slog"
	"sync"
	"time"
)

// FlushFunc receives one round: every channel's pending messages, snapshotted
// together at a single timer tick.
type FlushFunc func(pending map[string][]Message)

// Collector accumulates inbound messages per channel and flushes all
// channels together on a shared timer. One timer serves every channel so a
// round covers the whole backlog, letting the decision service amortize its
// per-call overhead across channels.
type Collector struct {
	mu       sync.Mutex
	interval time.Duration
	pending  map[string][]Message
	timer    *time.Timer
	flush    FlushFunc
	closed   bool
}

// NewCollector returns a collector that delivers rounds to flush every
// interval while messages are pending.
func NewCollector(interval time.Duration, flush FlushFunc) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		interval: interval,
		pending:  make(map[string][]Message),
		flush:    flush,
	}
}

// Enqueue appends a message to its channel's pending queue and arms the
// shared flush timer if it is not already armed.
func (c *Collector) Enqueue(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[msg.ChannelID] = append(c.pending[msg.ChannelID], msg)
	slog.Debug("queued message for moderation",
		"channel", msg.ChannelID,
		"message", msg.ID,
		"pending", len(c.pending[msg.ChannelID]),
	)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	}
}

// Remove drops a pending message that was deleted before its round flushed.
func (c *Collector) Remove(channelID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[channelID]
	if len(queue) == 0 {
		return
	}
	kept := queue[:0]
	for _, m := range queue {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	c.pending[channelID] = kept
}

// Update replaces a pending message in place after an edit. A message not
// in the queue is left alone; its edit will ride the next history fetch.
func (c *Collector) Update(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[msg.ChannelID]
	for i, m := range queue {
		if m.ID == msg.ID {
			queue[i] = msg
			return
		}
	}
}

// fire snapshots and clears every pending queue, then hands the round to the
// flush callback. The snapshot happens before any downstream work so
// messages enqueued during the flush land in the next round.
func (c *Collector) fire() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	round := make(map[string][]Message, len(c.pending))
	for channelID, queue := range c.pending {
		if len(queue) > 0 {
			round[channelID] = queue
		}
	}
	c.pending = make(map[string][]Message)
	c.timer = nil
	c.mu.Unlock()

	if len(round) == 0 {
		slog.Debug("flush timer fired with no pending messages")
		return
	}
	c.flush(round)
}

// FlushNow forces an immediate round, primarily for tests and shutdown
// drains that still want downstream processing.
func (c *Collector) FlushNow() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.fire()
}

// Close stops the timer and discards pending queues without invoking the
// downstream stage.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	dropped := 0
	for _, queue := range c.pending {
		dropped += len(queue)
	}
	c.pending = make(map[string][]Message)
	if dropped > 0 {
		slog.Info("collector closed with pending messages dropped", "count", dropped)
	}
}
