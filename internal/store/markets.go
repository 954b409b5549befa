package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

const marketColumns = `id, game_id, external_game_id, league, kind, is_locked, market_status, final_outcome`

// MarketsForGame resolves the markets bound to a game: primary binding by
// internal game id, plus a fallback binding by (external id, league) for
// legacy rows created before the internal binding existed.
func (s *Store) MarketsForGame(ctx context.Context, game *settlement.Game) ([]*settlement.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+marketColumns+`
		FROM markets
		WHERE game_id = $1
		   OR (game_id IS NULL AND external_game_id = $2 AND league = $3)
		ORDER BY id
	`, game.ID, game.ExternalID, game.League)
	if err != nil {
		return nil, fmt.Errorf("markets for game: %w", err)
	}
	defer rows.Close()

	var markets []*settlement.Market
	for rows.Next() {
		m := &settlement.Market{}
		var outcome *string
		if err := rows.Scan(
			&m.ID, &m.GameID, &m.ExternalGameID, &m.League,
			&m.Kind, &m.IsLocked, &m.Status, &outcome,
		); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		if outcome != nil {
			o := settlement.Outcome(*outcome)
			m.FinalOutcome = &o
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ForceLockMarket closes trading on a market found unlocked at settlement
// time, recording why.
func (s *Store) ForceLockMarket(ctx context.Context, marketID uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE markets SET is_locked = TRUE, lock_reason = $2 WHERE id = $1
	`, marketID, reason)
	if err != nil {
		return fmt.Errorf("force lock market: %w", err)
	}
	return nil
}

// SetMarketStatus moves a market to settled or void and records the final
// outcome.
func (s *Store) SetMarketStatus(ctx context.Context, marketID uuid.UUID, status settlement.MarketStatus, outcome settlement.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE markets SET market_status = $2, final_outcome = $3 WHERE id = $1
	`, marketID, status, outcome)
	if err != nil {
		return fmt.Errorf("set market status: %w", err)
	}
	return nil
}
