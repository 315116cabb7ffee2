package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// ReversalStore implements store.ReversalStore backed by SQLite. One row per
// (guild, user); rescheduling overwrites the due time.
type ReversalStore struct {
	db *sql.DB
}

func NewReversalStore(db *sql.DB) *ReversalStore {
	return &ReversalStore{db: db}
}

func (s *ReversalStore) Upsert(ctx context.Context, r store.Reversal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reversals (guild_id, user_id, due_at, reason)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET
			due_at = excluded.due_at,
			reason = excluded.reason`,
		r.GuildID, r.UserID, r.DueAt, r.Reason)
	if err != nil {
		return fmt.Errorf("upsert reversal: %w", err)
	}
	return nil
}

func (s *ReversalStore) Delete(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reversals WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return fmt.Errorf("delete reversal: %w", err)
	}
	return nil
}

func (s *ReversalStore) Exists(ctx context.Context, guildID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reversals WHERE guild_id = ? AND user_id = ?`,
		guildID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check reversal: %w", err)
	}
	return n > 0, nil
}

func (s *ReversalStore) DueBefore(ctx context.Context, cutoff int64) ([]store.Reversal, error) {
	return s.query(ctx,
		`SELECT guild_id, user_id, due_at, reason FROM reversals
		 WHERE due_at <= ? ORDER BY due_at`, cutoff)
}

func (s *ReversalStore) All(ctx context.Context) ([]store.Reversal, error) {
	return s.query(ctx,
		`SELECT guild_id, user_id, due_at, reason FROM reversals ORDER BY due_at`)
}

func (s *ReversalStore) query(ctx context.Context, q string, args ...any) ([]store.Reversal, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reversals: %w", err)
	}
	defer rows.Close()

	var out []store.Reversal
	for rows.Next() {
		var r store.Reversal
		if err := rows.Scan(&r.GuildID, &r.UserID, &r.DueAt, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan reversal: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
