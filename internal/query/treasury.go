// Package query serves the read-only admin surfaces: treasury balance and
// ledger aggregation over the fee bookkeeping rows.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TreasuryService reads the treasury ledger. Pure aggregation; it never
// writes.
type TreasuryService struct {
	db *sql.DB
}

func NewTreasuryService(db *sql.DB) *TreasuryService {
	return &TreasuryService{db: db}
}

// TreasuryBalance is the summed fee revenue for one currency.
type TreasuryBalance struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Entries  int             `json:"entries"`
}

// TreasuryLedgerEntry is one audit row, as served to admin tooling.
type TreasuryLedgerEntry struct {
	ID           int64           `json:"id"`
	SettlementID int64           `json:"settlement_id"`
	MarketID     uuid.UUID       `json:"market_id"`
	EntryType    string          `json:"entry_type"`
	Amount       decimal.Decimal `json:"amount"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	GrossPool    decimal.Decimal `json:"gross_pool"`
	LosingPool   decimal.Decimal `json:"losing_pool"`
	Outcome      string          `json:"outcome"`
	Currency     string          `json:"currency"`
	CreatedAt    time.Time       `json:"created_at"`
}

// GetBalance returns total fee revenue per currency.
func (ts *TreasuryService) GetBalance(ctx context.Context) ([]TreasuryBalance, error) {
	rows, err := ts.db.QueryContext(ctx, `
		SELECT currency, COALESCE(SUM(amount), 0), COUNT(*)
		FROM treasury_ledger
		GROUP BY currency
		ORDER BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("treasury balance: %w", err)
	}
	defer rows.Close()

	var balances []TreasuryBalance
	for rows.Next() {
		var b TreasuryBalance
		if err := rows.Scan(&b.Currency, &b.Total, &b.Entries); err != nil {
			return nil, fmt.Errorf("scan treasury balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// GetLedger returns treasury entries newest first with cursor pagination:
// pass the last seen id as beforeID to fetch the next page.
func (ts *TreasuryService) GetLedger(ctx context.Context, limit int, beforeID *int64) ([]TreasuryLedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	q := `
		SELECT id, settlement_id, market_id, entry_type, amount,
		       fee_rate, gross_pool, losing_pool, outcome, currency, created_at
		FROM treasury_ledger
	`
	args := []interface{}{}
	argIdx := 1

	if beforeID != nil {
		q += fmt.Sprintf(" WHERE id < $%d", argIdx)
		args = append(args, *beforeID)
		argIdx++
	}

	q += " ORDER BY id DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := ts.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("treasury ledger: %w", err)
	}
	defer rows.Close()

	var entries []TreasuryLedgerEntry
	for rows.Next() {
		var e TreasuryLedgerEntry
		if err := rows.Scan(
			&e.ID, &e.SettlementID, &e.MarketID, &e.EntryType, &e.Amount,
			&e.FeeRate, &e.GrossPool, &e.LosingPool, &e.Outcome, &e.Currency, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan treasury entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
