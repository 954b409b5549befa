package store

import (
	"context"
	"fmt"

	"PariLedger/internal/settlement"
)

// CreatePayout queues a winner payout instruction for the external rail
// and fills in the generated id. The rail owns the row from here.
func (s *Store) CreatePayout(ctx context.Context, p *settlement.Payout) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payouts (user_id, market_id, trade_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.UserID, p.MarketID, p.TradeID, p.Amount, p.Currency, p.Status).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}
