package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

// HasSettlements reports whether any market_settlements rows exist for a
// game — the game-level idempotency signal.
func (s *Store) HasSettlements(ctx context.Context, gameID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM market_settlements WHERE game_id = $1 LIMIT 1
	`, gameID).Scan(&one)
	return scanExists(err, "has settlements")
}

// HasMarketSettlement reports whether a market already has its settlement
// row — the market-level idempotency signal.
func (s *Store) HasMarketSettlement(ctx context.Context, marketID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM market_settlements WHERE market_id = $1 LIMIT 1
	`, marketID).Scan(&one)
	return scanExists(err, "has market settlement")
}

// CreateSettlement writes the one-per-market settlement record. A unique
// hit on market_id means another run already recorded it: created=false.
func (s *Store) CreateSettlement(ctx context.Context, ms *settlement.MarketSettlement) (bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO market_settlements
			(market_id, game_id, outcome, gross_pool, winning_pool, losing_pool,
			 platform_fee, net_distributed, winner_count, loser_count, fee_rate, settled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		ms.MarketID, ms.GameID, ms.Outcome,
		ms.GrossPool, ms.WinningPool, ms.LosingPool,
		ms.PlatformFee, ms.NetDistributed,
		ms.WinnerCount, ms.LoserCount, ms.FeeRate, ms.SettledBy,
	).Scan(&ms.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create settlement: %w", err)
	}
	return true, nil
}
