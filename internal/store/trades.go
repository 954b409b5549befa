package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

// TradesForMarket loads every trade_lock entry on a market, oldest first.
// Side is a NOT NULL column; malformed rows cannot reach settlement.
func (s *Store) TradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*settlement.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, market_id, amount, currency, side, created_at
		FROM ledger_entries
		WHERE market_id = $1 AND entry_type = $2
		ORDER BY created_at, id
	`, marketID, settlement.EntryTradeLock)
	if err != nil {
		return nil, fmt.Errorf("trades for market: %w", err)
	}
	defer rows.Close()

	var trades []*settlement.Trade
	for rows.Next() {
		t := &settlement.Trade{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.MarketID, &t.Amount, &t.Currency, &t.Side, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateLedgerCredit writes one money-movement credit (payout proceeds or
// refund release) and fills in the generated id.
func (s *Store) CreateLedgerCredit(ctx context.Context, e *settlement.LedgerEntry) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (user_id, market_id, trade_id, entry_type, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.UserID, e.MarketID, e.TradeID, e.EntryType, e.Amount, e.Currency).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("create ledger credit: %w", err)
	}
	return nil
}
