package settlement

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeRate is the platform's cut of the losing pool: 3%. The fee is taken
// only from losers — never from refunds, never from winning principal.
var FeeRate = decimal.RequireFromString("0.03")

// WinnerPayout is one winning trade's computed proceeds:
// Amount = Stake + Profit.
type WinnerPayout struct {
	TradeID int64
	UserID  uuid.UUID
	Stake   decimal.Decimal
	Profit  decimal.Decimal
	Amount  decimal.Decimal
}

// Refund is one trade's full principal release under a voided market.
type Refund struct {
	TradeID int64
	UserID  uuid.UUID
	Amount  decimal.Decimal
}

// Result is the pure output of settling one market's trade set against a
// declared outcome. Amounts are kept at full decimal precision; rounding
// to cents happens only where money is persisted.
type Result struct {
	Outcome        Outcome
	Cancelled      bool
	GrossPool      decimal.Decimal
	WinningPool    decimal.Decimal
	LosingPool     decimal.Decimal
	PlatformFee    decimal.Decimal
	NetDistributed decimal.Decimal
	Payouts        []WinnerPayout
	Refunds        []Refund
	WinnerCount    int
	LoserCount     int
}

// Calculate maps one market's trades and a declared outcome to pool
// sizes, platform fee, and per-trade payouts or refunds. Pure and
// side-effect free; the processor and the admin preview share it so the
// dry-run can never diverge from the real thing.
//
// Conservation: whenever there is at least one winner,
// sum(payout.Amount) + PlatformFee == GrossPool.
func Calculate(trades []*Trade, outcome Outcome) Result {
	res := Result{
		Outcome:        outcome,
		GrossPool:      decimal.Zero,
		WinningPool:    decimal.Zero,
		LosingPool:     decimal.Zero,
		PlatformFee:    decimal.Zero,
		NetDistributed: decimal.Zero,
	}

	for _, t := range trades {
		res.GrossPool = res.GrossPool.Add(t.Amount)
	}

	if outcome.IsCancellation() {
		// Voided market: principal back to everyone, no fee, no pools.
		res.Cancelled = true
		res.NetDistributed = res.GrossPool
		res.Refunds = make([]Refund, 0, len(trades))
		for _, t := range trades {
			res.Refunds = append(res.Refunds, Refund{
				TradeID: t.ID,
				UserID:  t.UserID,
				Amount:  t.Amount,
			})
		}
		return res
	}

	var winners []*Trade
	for _, t := range trades {
		if t.Side.Wins(outcome) {
			winners = append(winners, t)
			res.WinningPool = res.WinningPool.Add(t.Amount)
		} else {
			res.LoserCount++
			res.LosingPool = res.LosingPool.Add(t.Amount)
		}
	}
	res.WinnerCount = len(winners)

	res.PlatformFee = res.LosingPool.Mul(FeeRate)
	res.NetDistributed = res.LosingPool.Sub(res.PlatformFee)

	// No winners: the fee is still charged on the losing pool, but there
	// is nobody to distribute NetDistributed to. The remainder stays
	// absorbed; the settlement record keeps it auditable.
	if res.WinningPool.IsZero() {
		return res
	}

	res.Payouts = make([]WinnerPayout, 0, len(winners))
	for _, t := range winners {
		profit := res.NetDistributed.Mul(t.Amount).Div(res.WinningPool)
		res.Payouts = append(res.Payouts, WinnerPayout{
			TradeID: t.ID,
			UserID:  t.UserID,
			Stake:   t.Amount,
			Profit:  profit,
			Amount:  t.Amount.Add(profit),
		})
	}

	return res
}
