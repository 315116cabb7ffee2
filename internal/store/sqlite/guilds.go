package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// GuildStore implements store.GuildStore backed by SQLite.
type GuildStore struct {
	db *sql.DB
	mu sync.RWMutex
	// Hot cache: settings are read on every message event.
	cache map[string]*store.GuildSettings
}

func NewGuildStore(db *sql.DB) *GuildStore {
	return &GuildStore{db: db, cache: make(map[string]*store.GuildSettings)}
}

func defaultSettings(guildID string) *store.GuildSettings {
	return &store.GuildSettings{
		GuildID:       guildID,
		Enabled:       true,
		ActionToggles: map[string]bool{},
	}
}

// Guild returns the guild's settings, creating defaults for guilds never
// seen before.
func (s *GuildStore) Guild(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	s.mu.RLock()
	if cached, ok := s.cache[guildID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[guildID]; ok {
		return cached, nil
	}

	var (
		enabled  int
		toggles  string
		rules    string
		channels string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, action_toggles, rules, review_channel_ids
		 FROM guild_settings WHERE guild_id = ?`, guildID).
		Scan(&enabled, &toggles, &rules, &channels)
	if errors.Is(err, sql.ErrNoRows) {
		settings := defaultSettings(guildID)
		s.cache[guildID] = settings
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load guild %s: %w", guildID, err)
	}

	settings := &store.GuildSettings{
		GuildID: guildID,
		Enabled: enabled != 0,
		Rules:   rules,
	}
	if err := json.Unmarshal([]byte(toggles), &settings.ActionToggles); err != nil {
		settings.ActionToggles = map[string]bool{}
	}
	if err := json.Unmarshal([]byte(channels), &settings.ReviewChannelIDs); err != nil {
		settings.ReviewChannelIDs = nil
	}
	s.cache[guildID] = settings
	return settings, nil
}

// SaveGuild persists settings and refreshes the cache.
func (s *GuildStore) SaveGuild(ctx context.Context, settings *store.GuildSettings) error {
	toggles, err := json.Marshal(settings.ActionToggles)
	if err != nil {
		return fmt.Errorf("marshal toggles: %w", err)
	}
	channels, err := json.Marshal(settings.ReviewChannelIDs)
	if err != nil {
		return fmt.Errorf("marshal review channels: %w", err)
	}
	enabled := 0
	if settings.Enabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, enabled, action_toggles, rules, review_channel_ids)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			action_toggles = excluded.action_toggles,
			rules = excluded.rules,
			review_channel_ids = excluded.review_channel_ids`,
		settings.GuildID, enabled, string(toggles), settings.Rules, string(channels))
	if err != nil {
		return fmt.Errorf("save guild %s: %w", settings.GuildID, err)
	}

	s.mu.Lock()
	s.cache[settings.GuildID] = settings
	s.mu.Unlock()
	return nil
}
