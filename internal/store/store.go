// Package store defines the durable-storage interfaces the moderation
// pipeline depends on. Concrete backends live in subpackages.
package store

import (
	"context"
	"time"
)

// GuildSettings holds the per-guild moderation configuration.
type GuildSettings struct {
	GuildID          string
	Enabled          bool            // master switch for AI moderation
	ActionToggles    map[string]bool // action kind -> allowed; missing key = allowed
	Rules            string          // guild rules text injected into the decision prompt
	ReviewChannelIDs []string        // destinations for consolidated review notices
}

// ActionAllowed reports whether the given action kind is enabled for the
// guild. Unknown kinds default to allowed, matching the toggle semantics of
// the settings surface.
func (s *GuildSettings) ActionAllowed(kind string) bool {
	if s == nil {
		return false
	}
	if allowed, ok := s.ActionToggles[kind]; ok {
		return allowed
	}
	return true
}

// ActionRecord is one row of the moderation action log.
type ActionRecord struct {
	GuildID   string
	UserID    string
	Action    string
	Reason    string
	Timestamp time.Time
	Duration  string // human label, empty when not applicable
}

// Reversal is a pending scheduled reversal (e.g. an unban). Primary key is
// (GuildID, UserID): at most one pending reversal per user per guild.
type Reversal struct {
	GuildID string
	UserID  string
	DueAt   int64 // unix seconds (UTC)
	Reason  string
}

// GuildStore exposes per-guild settings.
type GuildStore interface {
	Guild(ctx context.Context, guildID string) (*GuildSettings, error)
	SaveGuild(ctx context.Context, settings *GuildSettings) error
}

// ReversalStore persists scheduled reversals across restarts.
type ReversalStore interface {
	Upsert(ctx context.Context, r Reversal) error
	Delete(ctx context.Context, guildID, userID string) error
	Exists(ctx context.Context, guildID, userID string) (bool, error)
	DueBefore(ctx context.Context, now int64) ([]Reversal, error)
	All(ctx context.Context) ([]Reversal, error)
}

// ActionLogStore records executed actions and serves the lookback window
// that feeds past_actions context into future rounds.
type ActionLogStore interface {
	Record(ctx context.Context, rec ActionRecord) error
	PastActions(ctx context.Context, guildID, userID string, lookback time.Duration) ([]ActionRecord, error)
}

// Stores bundles every backend handle the engine needs.
type Stores struct {
	Guilds    GuildStore
	Reversals ReversalStore
	Actions   ActionLogStore
}
