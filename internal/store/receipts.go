package store

import (
	"context"
	"fmt"

	"PariLedger/internal/settlement"
)

// CreateReceipt inserts an INITIATED receipt. A uniqueness hit on
// (market_id, user_id, effect_type) means the effect was already handled
// by this or another worker: created=false, no error. This single
// constraint is what makes every payout and refund at-most-once.
func (s *Store) CreateReceipt(ctx context.Context, r *settlement.Receipt) (bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settlement_receipts
			(queue_item_id, market_id, user_id, effect_type, amount, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.QueueItemID, r.MarketID, r.UserID, r.Effect, r.Amount, r.State).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create receipt: %w", err)
	}
	return true, nil
}

// ConfirmReceipt marks a receipt CONFIRMED, referencing the payout and
// ledger rows it guards. Called only after those writes succeeded.
func (s *Store) ConfirmReceipt(ctx context.Context, receiptID int64, payoutID, entryID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_receipts
		SET state = $2, payout_id = $3, ledger_entry_id = $4, confirmed_at = NOW()
		WHERE id = $1
	`, receiptID, settlement.ReceiptConfirmed, payoutID, entryID)
	if err != nil {
		return fmt.Errorf("confirm receipt: %w", err)
	}
	return nil
}

// FailReceipt marks a receipt FAILED with the write error that stopped
// it. The trade stays unpaid for a future retry pass.
func (s *Store) FailReceipt(ctx context.Context, receiptID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_receipts SET state = $2, failure_reason = $3 WHERE id = $1
	`, receiptID, settlement.ReceiptFailed, reason)
	if err != nil {
		return fmt.Errorf("fail receipt: %w", err)
	}
	return nil
}
