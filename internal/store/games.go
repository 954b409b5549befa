package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

// GetGame loads one game by id. Returns settlement.ErrNotFound when the
// row is missing so the worker can treat it as retryable.
func (s *Store) GetGame(ctx context.Context, gameID uuid.UUID) (*settlement.Game, error) {
	g := &settlement.Game{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, league, external_id, status, home_score, away_score, scheduled_at, settled_at
		FROM games
		WHERE id = $1
	`, gameID).Scan(
		&g.ID, &g.League, &g.ExternalID, &g.Status,
		&g.HomeScore, &g.AwayScore, &g.ScheduledAt, &g.SettledAt,
	)
	if err == sql.ErrNoRows {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	return g, nil
}

// StampGameSettled sets settled_at exactly once; a second stamp is a
// no-op rather than an overwrite.
func (s *Store) StampGameSettled(ctx context.Context, gameID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET settled_at = $2 WHERE id = $1 AND settled_at IS NULL
	`, gameID, at)
	if err != nil {
		return fmt.Errorf("stamp game settled: %w", err)
	}
	return nil
}
