package store

import (
	"context"
	"fmt"

	"PariLedger/internal/settlement"
)

// CreateTreasuryEntry records fee revenue for one settlement. A unique
// hit on settlement_id means the fee was already booked: created=false.
func (s *Store) CreateTreasuryEntry(ctx context.Context, t *settlement.TreasuryEntry) (bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO treasury_ledger
			(settlement_id, market_id, entry_type, amount, fee_rate, gross_pool, losing_pool, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		t.SettlementID, t.MarketID, t.EntryType, t.Amount,
		t.FeeRate, t.GrossPool, t.LosingPool, t.Outcome,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create treasury entry: %w", err)
	}
	return true, nil
}
