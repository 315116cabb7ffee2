// Package review collects verdicts the model could not decide on and posts
// them to the guild's review channels for a human call.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// Sender posts a message to a channel. platform.Platform satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Item is one user flagged for human review in a round. PastActions carries
// the member's recent moderation record so the reviewer sees repeat
// offenders without leaving the report.
type Item struct {
	GuildID     string
	ChannelID   string
	UserID      string
	Username    string
	Reason      string
	MessageIDs  []string
	PastActions []store.ActionRecord
}

// Consolidator gathers review items across a round and flushes one report
// per guild. Within a round the first item for a (guild, user) pair wins;
// later duplicates are dropped so one user never produces two review lines.
type Consolidator struct {
	mu     sync.Mutex
	sender Sender
	guilds store.GuildStore
	items  []Item
	seen   map[string]struct{}
}

func NewConsolidator(sender Sender, guilds store.GuildStore) *Consolidator {
	return &Consolidator{
		sender: sender,
		guilds: guilds,
		seen:   make(map[string]struct{}),
	}
}

// Add queues an item and reports whether it was accepted.
func (c *Consolidator) Add(item Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := item.GuildID + "\x00" + item.UserID
	if _, dup := c.seen[k]; dup {
		return false
	}
	c.seen[k] = struct{}{}
	c.items = append(c.items, item)
	return true
}

// Len reports how many items are queued.
func (c *Consolidator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func renderReport(batchID string, items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Moderation review** `%s` (%d flagged)\n", batchID, len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "- <@%s> (%s) in <#%s>: %s",
			it.UserID, it.Username, it.ChannelID, it.Reason)
		if len(it.MessageIDs) > 0 {
			fmt.Fprintf(&b, " [messages: %s]", strings.Join(it.MessageIDs, ", "))
		}
		if len(it.PastActions) > 0 {
			parts := make([]string, 0, len(it.PastActions))
			for _, rec := range it.PastActions {
				p := rec.Action
				if rec.Duration != "" {
					p += " " + rec.Duration
				}
				parts = append(parts, p)
			}
			fmt.Fprintf(&b, " (past: %s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Flush posts queued items to every review channel of their guild and
// clears the queue. It reports whether at least one report was delivered.
// Guilds without configured review channels drop their items with a log
// line; there is nowhere to send them.
func (c *Consolidator) Flush(ctx context.Context) bool {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.seen = make(map[string]struct{})
	c.mu.Unlock()
	if len(items) == 0 {
		return false
	}

	byGuild := make(map[string][]Item)
	var order []string
	for _, it := range items {
		if _, ok := byGuild[it.GuildID]; !ok {
			order = append(order, it.GuildID)
		}
		byGuild[it.GuildID] = append(byGuild[it.GuildID], it)
	}

	batchID := uuid.NewString()[:8]
	delivered := false
	for _, guildID := range order {
		settings, err := c.guilds.Guild(ctx, guildID)
		if err != nil {
			slog.Warn("guild settings lookup failed, review items dropped",
				"guild_id", guildID, "error", err)
			continue
		}
		if len(settings.ReviewChannelIDs) == 0 {
			slog.Info("no review channels configured, review items dropped",
				"guild_id", guildID, "count", len(byGuild[guildID]))
			continue
		}
		report := renderReport(batchID, byGuild[guildID])
		for _, chID := range settings.ReviewChannelIDs {
			if err := c.sender.SendMessage(ctx, chID, report); err != nil {
				slog.Warn("review report send failed",
					"guild_id", guildID, "channel_id", chID, "error", err)
				continue
			}
			delivered = true
		}
	}
	return delivered
}
