package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// ActionLogStore implements store.ActionLogStore backed by SQLite.
type ActionLogStore struct {
	db *sql.DB
}

func NewActionLogStore(db *sql.DB) *ActionLogStore {
	return &ActionLogStore{db: db}
}

func (s *ActionLogStore) Record(ctx context.Context, rec store.ActionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_log (guild_id, user_id, action, reason, timestamp, duration)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.GuildID, rec.UserID, rec.Action, rec.Reason, rec.Timestamp.Unix(), rec.Duration)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// Most recent rows win when a member has a long record; the window is a
// context hint, not an audit export.
const pastActionsCap = 25

// PastActions returns the member's actions within the lookback window,
// newest first.
func (s *ActionLogStore) PastActions(ctx context.Context, guildID, userID string, lookback time.Duration) ([]store.ActionRecord, error) {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-lookback).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, user_id, action, reason, timestamp, duration
		 FROM action_log WHERE guild_id = ? AND user_id = ? AND timestamp >= ?
		 ORDER BY timestamp DESC LIMIT ?`, guildID, userID, cutoff, pastActionsCap)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []store.ActionRecord
	for rows.Next() {
		var (
			rec store.ActionRecord
			ts  int64
		)
		if err := rows.Scan(&rec.GuildID, &rec.UserID, &rec.Action, &rec.Reason, &ts, &rec.Duration); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
