package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PariLedger/internal/observability"
)

// TradeStatus tags what happened to one trade during settlement.
type TradeStatus string

const (
	TradePaid     TradeStatus = "paid"
	TradeRefunded TradeStatus = "refunded"
	TradeSkipped  TradeStatus = "skipped"
	TradeFailed   TradeStatus = "failed"
)

// TradeResult is one trade's settlement outcome. Failures carry the error
// text; the trade itself is left for a future retry pass — failing to pay
// is safer than double-paying.
type TradeResult struct {
	TradeID int64
	UserID  uuid.UUID
	Effect  EffectType
	Status  TradeStatus
	Err     string
}

// MarketOutcome tags how one market ended up inside a job run.
type MarketOutcome string

const (
	MarketResultSettled MarketOutcome = "settled"
	MarketResultVoid    MarketOutcome = "void"
	MarketResultSkipped MarketOutcome = "skipped"
	MarketResultFailed  MarketOutcome = "failed"
)

// MarketResult summarizes one market's pass through the processor.
type MarketResult struct {
	MarketID   uuid.UUID
	Outcome    MarketOutcome
	ForcedLock bool
	Trades     []TradeResult
	Err        string
}

// JobResult is the tagged summary of one queue item's run, in place of
// skip-and-log: tests and callers can assert on it deterministically.
type JobResult struct {
	QueueItemID    int64
	GameID         uuid.UUID
	AlreadySettled bool
	NoMarkets      bool
	Markets        []MarketResult
}

// Counts tallies per-trade outcomes across all markets.
func (r *JobResult) Counts() (paid, refunded, skipped, failed int) {
	for _, m := range r.Markets {
		for _, t := range m.Trades {
			switch t.Status {
			case TradePaid:
				paid++
			case TradeRefunded:
				refunded++
			case TradeSkipped:
				skipped++
			case TradeFailed:
				failed++
			}
		}
	}
	return
}

// Processor drives one locked queue item's game from open/locked markets
// to settled/void, exactly once. Correctness does not depend on this
// process surviving: every gate re-checks persisted state, so a crashed
// run simply re-enters the same path and skips completed work.
type Processor struct {
	store     Store
	settledBy string
	log       zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewProcessor(store Store, settledBy string, log zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:     store,
		settledBy: settledBy,
		log:       log,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ProcessJob settles all markets of the game referenced by item. A non-nil
// error means the job as a whole failed and should be rescheduled with
// backoff; per-market and per-trade failures are captured in the result
// and do not abort the run.
func (p *Processor) ProcessJob(ctx context.Context, item *QueueItem) (*JobResult, error) {
	res := &JobResult{QueueItemID: item.ID, GameID: item.GameID}

	game, err := p.store.GetGame(ctx, item.GameID)
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", item.GameID, err)
	}

	// Gate 1: settled_at already stamped means a prior run finished.
	if game.SettledAt != nil {
		res.AlreadySettled = true
		return res, nil
	}

	// Gate 2: settlement rows without the stamp mean a prior run
	// completed its markets then crashed before stamping. Finish the
	// stamp and stop.
	settled, err := p.store.HasSettlements(ctx, game.ID)
	if err != nil {
		return nil, fmt.Errorf("check settlements for game %s: %w", game.ID, err)
	}
	if settled {
		if err := p.store.StampGameSettled(ctx, game.ID, p.now()); err != nil {
			return nil, fmt.Errorf("stamp settled game %s: %w", game.ID, err)
		}
		res.AlreadySettled = true
		return res, nil
	}

	markets, err := p.store.MarketsForGame(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("load markets for game %s: %w", game.ID, err)
	}
	if len(markets) == 0 {
		// Nothing to settle is a valid terminal state, not an error.
		if err := p.store.StampGameSettled(ctx, game.ID, p.now()); err != nil {
			return nil, fmt.Errorf("stamp settled game %s: %w", game.ID, err)
		}
		res.NoMarkets = true
		return res, nil
	}

	for _, m := range markets {
		mr := p.settleMarket(ctx, item, game, m)
		res.Markets = append(res.Markets, mr)
		if p.metrics != nil {
			p.metrics.MarketsProcessed.WithLabelValues(string(mr.Outcome)).Inc()
		}
	}

	if err := p.store.StampGameSettled(ctx, game.ID, p.now()); err != nil {
		return nil, fmt.Errorf("stamp settled game %s: %w", game.ID, err)
	}

	return res, nil
}

// settleMarket handles one market independently: any error here is
// captured in the MarketResult and never aborts the other markets.
func (p *Processor) settleMarket(ctx context.Context, item *QueueItem, game *Game, m *Market) MarketResult {
	mr := MarketResult{MarketID: m.ID}
	log := p.log.With().Stringer("market_id", m.ID).Stringer("game_id", game.ID).Logger()

	// Per-market idempotency: an already settled/void market, or one with
	// a settlement row, is finished work from an earlier run.
	if m.Status != MarketOpen {
		mr.Outcome = MarketResultSkipped
		return mr
	}
	exists, err := p.store.HasMarketSettlement(ctx, m.ID)
	if err != nil {
		mr.Outcome = MarketResultFailed
		mr.Err = err.Error()
		return mr
	}
	if exists {
		mr.Outcome = MarketResultSkipped
		return mr
	}

	// Safety invariant: never pay out a market where trading could still
	// be open concurrently. Force-lock and record the violation.
	if !m.IsLocked {
		log.Warn().Msg("market unlocked at settlement time, force-locking")
		if err := p.store.ForceLockMarket(ctx, m.ID, "SETTLEMENT_SAFETY"); err != nil {
			mr.Outcome = MarketResultFailed
			mr.Err = fmt.Sprintf("force-lock: %v", err)
			return mr
		}
		mr.ForcedLock = true
		if p.metrics != nil {
			p.metrics.ForcedLocks.Inc()
		}
	}

	status := MarketSettled
	if item.Outcome.IsCancellation() {
		status = MarketVoid
	}
	if err := p.store.SetMarketStatus(ctx, m.ID, status, item.Outcome); err != nil {
		mr.Outcome = MarketResultFailed
		mr.Err = fmt.Sprintf("set status: %v", err)
		return mr
	}

	trades, err := p.store.TradesForMarket(ctx, m.ID)
	if err != nil {
		mr.Outcome = MarketResultFailed
		mr.Err = fmt.Sprintf("load trades: %v", err)
		return mr
	}

	calc := Calculate(trades, item.Outcome)
	currency := tradeCurrency(trades)

	if calc.Cancelled {
		for _, ref := range calc.Refunds {
			mr.Trades = append(mr.Trades, p.applyRefund(ctx, item, m, ref, currency))
		}
		mr.Outcome = MarketResultVoid
	} else {
		for _, pay := range calc.Payouts {
			mr.Trades = append(mr.Trades, p.applyPayout(ctx, item, m, pay, currency))
		}
		// Losing and non-outcome trades move no money: their stake is
		// already accounted for in the losing pool and fee.
		mr.Outcome = MarketResultSettled
	}

	settlement := &MarketSettlement{
		MarketID:       m.ID,
		GameID:         game.ID,
		Outcome:        item.Outcome,
		GrossPool:      calc.GrossPool.Round(2),
		WinningPool:    calc.WinningPool.Round(2),
		LosingPool:     calc.LosingPool.Round(2),
		PlatformFee:    calc.PlatformFee.Round(2),
		NetDistributed: calc.NetDistributed.Round(2),
		WinnerCount:    calc.WinnerCount,
		LoserCount:     calc.LoserCount,
		FeeRate:        FeeRate,
		SettledBy:      p.settledBy,
	}
	created, err := p.store.CreateSettlement(ctx, settlement)
	if err != nil {
		mr.Outcome = MarketResultFailed
		mr.Err = fmt.Sprintf("settlement record: %v", err)
		return mr
	}
	if !created {
		// A concurrent worker beat us to the record; the receipts above
		// already made every money movement at-most-once.
		log.Info().Msg("settlement record already existed")
		return mr
	}

	// Fee bookkeeping is best-effort audit, never a blocking dependency
	// of payouts.
	if calc.PlatformFee.IsPositive() {
		p.recordFee(ctx, log, settlement, calc)
	}

	log.Info().
		Str("outcome", string(item.Outcome)).
		Str("gross_pool", calc.GrossPool.String()).
		Str("platform_fee", calc.PlatformFee.String()).
		Int("winners", calc.WinnerCount).
		Int("losers", calc.LoserCount).
		Msg("market settled")

	return mr
}

// applyPayout runs one winning trade's strictly ordered settlement path:
// receipt INITIATED, payout row, ledger credit, receipt CONFIRMED. The
// receipt's existence is the idempotency guard checked before any side
// effect, so this order must never change.
func (p *Processor) applyPayout(ctx context.Context, item *QueueItem, m *Market, pay WinnerPayout, currency string) TradeResult {
	tr := TradeResult{TradeID: pay.TradeID, UserID: pay.UserID, Effect: EffectPayout}
	amount := pay.Amount.Round(2)

	receipt := &Receipt{
		QueueItemID: item.ID,
		MarketID:    m.ID,
		UserID:      pay.UserID,
		Effect:      EffectPayout,
		Amount:      amount,
		State:       ReceiptInitiated,
	}
	created, err := p.store.CreateReceipt(ctx, receipt)
	if err != nil {
		tr.Status = TradeFailed
		tr.Err = fmt.Sprintf("create receipt: %v", err)
		p.countReceiptFailure()
		return tr
	}
	if !created {
		tr.Status = TradeSkipped
		if p.metrics != nil {
			p.metrics.ReceiptSkips.Inc()
		}
		return tr
	}

	payout := &Payout{
		UserID:   pay.UserID,
		MarketID: m.ID,
		TradeID:  pay.TradeID,
		Amount:   amount,
		Currency: currency,
		Status:   PayoutQueued,
	}
	if err := p.store.CreatePayout(ctx, payout); err != nil {
		p.failReceipt(ctx, receipt.ID, fmt.Sprintf("create payout: %v", err))
		tr.Status = TradeFailed
		tr.Err = err.Error()
		return tr
	}

	entry := &LedgerEntry{
		UserID:    pay.UserID,
		MarketID:  m.ID,
		TradeID:   pay.TradeID,
		EntryType: EntrySettlementPayout,
		Amount:    amount,
		Currency:  currency,
	}
	if err := p.store.CreateLedgerCredit(ctx, entry); err != nil {
		p.failReceipt(ctx, receipt.ID, fmt.Sprintf("ledger credit: %v", err))
		tr.Status = TradeFailed
		tr.Err = err.Error()
		return tr
	}

	if err := p.store.ConfirmReceipt(ctx, receipt.ID, &payout.ID, &entry.ID); err != nil {
		p.failReceipt(ctx, receipt.ID, fmt.Sprintf("confirm: %v", err))
		tr.Status = TradeFailed
		tr.Err = err.Error()
		return tr
	}

	tr.Status = TradePaid
	if p.metrics != nil {
		p.metrics.PayoutsQueued.Inc()
	}
	return tr
}

// applyRefund releases one trade's full stake on a voided market, guarded
// by a REFUND receipt.
func (p *Processor) applyRefund(ctx context.Context, item *QueueItem, m *Market, ref Refund, currency string) TradeResult {
	tr := TradeResult{TradeID: ref.TradeID, UserID: ref.UserID, Effect: EffectRefund}
	amount := ref.Amount.Round(2)

	receipt := &Receipt{
		QueueItemID: item.ID,
		MarketID:    m.ID,
		UserID:      ref.UserID,
		Effect:      EffectRefund,
		Amount:      amount,
		State:       ReceiptInitiated,
	}
	created, err := p.store.CreateReceipt(ctx, receipt)
	if err != nil {
		tr.Status = TradeFailed
		tr.Err = fmt.Sprintf("create receipt: %v", err)
		p.countReceiptFailure()
		return tr
	}
	if !created {
		tr.Status = TradeSkipped
		if p.metrics != nil {
			p.metrics.ReceiptSkips.Inc()
		}
		return tr
	}

	entry := &LedgerEntry{
		UserID:    ref.UserID,
		MarketID:  m.ID,
		TradeID:   ref.TradeID,
		EntryType: EntryTradeRelease,
		Amount:    amount,
		Currency:  currency,
	}
	if err := p.store.CreateLedgerCredit(ctx, entry); err != nil {
		p.failReceipt(ctx, receipt.ID, fmt.Sprintf("ledger credit: %v", err))
		tr.Status = TradeFailed
		tr.Err = err.Error()
		return tr
	}

	if err := p.store.ConfirmReceipt(ctx, receipt.ID, nil, &entry.ID); err != nil {
		p.failReceipt(ctx, receipt.ID, fmt.Sprintf("confirm: %v", err))
		tr.Status = TradeFailed
		tr.Err = err.Error()
		return tr
	}

	tr.Status = TradeRefunded
	if p.metrics != nil {
		p.metrics.RefundsIssued.Inc()
	}
	return tr
}

// recordFee writes the single SETTLEMENT_FEE treasury entry for a
// settlement. Duplicates (unique settlement_id) are fine; write errors
// are logged and counted but never fail the market.
func (p *Processor) recordFee(ctx context.Context, log zerolog.Logger, s *MarketSettlement, calc Result) {
	entry := &TreasuryEntry{
		SettlementID: s.ID,
		MarketID:     s.MarketID,
		EntryType:    TreasurySettlementFee,
		Amount:       calc.PlatformFee.Round(2),
		FeeRate:      FeeRate,
		GrossPool:    calc.GrossPool.Round(2),
		LosingPool:   calc.LosingPool.Round(2),
		Outcome:      s.Outcome,
	}
	created, err := p.store.CreateTreasuryEntry(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("treasury fee write failed")
		if p.metrics != nil {
			p.metrics.TreasuryWriteErr.Inc()
		}
		return
	}
	if created && p.metrics != nil {
		fee, _ := calc.PlatformFee.Round(2).Float64()
		p.metrics.FeesCollected.Add(fee)
	}
}

func (p *Processor) failReceipt(ctx context.Context, receiptID int64, reason string) {
	if err := p.store.FailReceipt(ctx, receiptID, reason); err != nil {
		p.log.Error().Err(err).Int64("receipt_id", receiptID).Msg("mark receipt failed")
	}
	p.countReceiptFailure()
}

func (p *Processor) countReceiptFailure() {
	if p.metrics != nil {
		p.metrics.ReceiptFailures.Inc()
	}
}

func tradeCurrency(trades []*Trade) string {
	for _, t := range trades {
		if t.Currency != "" {
			return t.Currency
		}
	}
	return "USD"
}
