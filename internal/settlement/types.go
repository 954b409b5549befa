package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Store implementations when a requested row
// does not exist. The worker treats a missing game as retryable.
var ErrNotFound = errors.New("settlement: not found")

// Outcome is the declared result a settlement job carries for a game.
type Outcome string

const (
	OutcomeHome      Outcome = "HOME"
	OutcomeAway      Outcome = "AWAY"
	OutcomeCanceled  Outcome = "CANCELED"
	OutcomePostponed Outcome = "POSTPONED"
)

// IsCancellation reports whether the outcome voids markets instead of
// settling them: every stake is refunded in full and no fee is taken.
func (o Outcome) IsCancellation() bool {
	return o == OutcomeCanceled || o == OutcomePostponed
}

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHome, OutcomeAway, OutcomeCanceled, OutcomePostponed:
		return true
	}
	return false
}

// Side is the position a trade takes on a two-sided market. It is a
// required, typed field on every trade — a missing side is a
// data-integrity error caught at ingestion, never tolerated here.
type Side string

const (
	SideHome Side = "HOME"
	SideAway Side = "AWAY"
)

// Wins reports whether a trade on this side wins under the given outcome.
func (s Side) Wins(o Outcome) bool {
	return string(s) == string(o)
}

// GameStatus values mirror the ingestion pipeline's lifecycle.
type GameStatus string

const (
	GameScheduled  GameStatus = "scheduled"
	GameInProgress GameStatus = "in_progress"
	GameFinal      GameStatus = "final"
	GamePostponed  GameStatus = "postponed"
	GameCanceled   GameStatus = "canceled"
)

// Game is a real-world sporting event. Created and updated by the
// ingestion pipeline; settlement only reads it and stamps SettledAt.
type Game struct {
	ID          uuid.UUID
	League      string
	ExternalID  string
	Status      GameStatus
	HomeScore   int
	AwayScore   int
	ScheduledAt time.Time
	SettledAt   *time.Time
}

type MarketStatus string

const (
	MarketOpen    MarketStatus = "open"
	MarketSettled MarketStatus = "settled"
	MarketVoid    MarketStatus = "void"
)

// Market is a tradable proposition bound to a game. GameID is the primary
// binding; legacy rows are bound only by (ExternalGameID, League).
type Market struct {
	ID             uuid.UUID
	GameID         uuid.NullUUID
	ExternalGameID string
	League         string
	Kind           string
	IsLocked       bool
	Status         MarketStatus
	FinalOutcome   *Outcome
}

// Trade is one user's stake on one side of one market, stored as a
// trade_lock ledger entry. Immutable once created.
type Trade struct {
	ID        int64
	UserID    uuid.UUID
	MarketID  uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Side      Side
	CreatedAt time.Time
}

// LedgerEntry is a money-movement row. Settlement only ever writes
// credits: payout proceeds and refund releases.
type LedgerEntry struct {
	ID        int64
	UserID    uuid.UUID
	MarketID  uuid.UUID
	TradeID   int64
	EntryType string
	Amount    decimal.Decimal
	Currency  string
}

const (
	EntryTradeLock        = "trade_lock"
	EntrySettlementPayout = "settlement_payout"
	EntryTradeRelease     = "trade_release"
)

// EffectType labels the monetary effect a receipt guards.
type EffectType string

const (
	EffectPayout EffectType = "PAYOUT"
	EffectRefund EffectType = "REFUND"
	EffectFee    EffectType = "FEE"
)

type ReceiptState string

const (
	ReceiptInitiated ReceiptState = "INITIATED"
	ReceiptConfirmed ReceiptState = "CONFIRMED"
	ReceiptFailed    ReceiptState = "FAILED"
)

// Receipt proves a monetary effect was initiated/confirmed for one
// (market, user, effect) tuple. The store's uniqueness constraint on that
// tuple is the at-most-once guarantee the whole design rests on.
type Receipt struct {
	ID          int64
	QueueItemID int64
	MarketID    uuid.UUID
	UserID      uuid.UUID
	Effect      EffectType
	Amount      decimal.Decimal
	State       ReceiptState
	PayoutID    *int64
	EntryID     *int64
	Reason      string
}

type PayoutStatus string

const (
	PayoutQueued  PayoutStatus = "queued"
	PayoutSent    PayoutStatus = "sent"
	PayoutErrored PayoutStatus = "failed"
)

// Payout is a queued instruction for the external payout rail. Settlement
// creates it with status queued; the rail owns it from there.
type Payout struct {
	ID       int64
	UserID   uuid.UUID
	MarketID uuid.UUID
	TradeID  int64
	Amount   decimal.Decimal
	Currency string
	Status   PayoutStatus
}

// MarketSettlement is the one-row-per-market settlement record. Its
// existence is the market-level idempotency signal.
type MarketSettlement struct {
	ID             int64
	MarketID       uuid.UUID
	GameID         uuid.UUID
	Outcome        Outcome
	GrossPool      decimal.Decimal
	WinningPool    decimal.Decimal
	LosingPool     decimal.Decimal
	PlatformFee    decimal.Decimal
	NetDistributed decimal.Decimal
	WinnerCount    int
	LoserCount     int
	FeeRate        decimal.Decimal
	SettledBy      string
}

// TreasuryEntry records fee revenue for audit. At most one per settlement.
type TreasuryEntry struct {
	ID           int64
	SettlementID int64
	MarketID     uuid.UUID
	EntryType    string
	Amount       decimal.Decimal
	FeeRate      decimal.Decimal
	GrossPool    decimal.Decimal
	LosingPool   decimal.Decimal
	Outcome      Outcome
}

const TreasurySettlementFee = "SETTLEMENT_FEE"

type QueueStatus string

const (
	QueueQueued     QueueStatus = "QUEUED"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueDone       QueueStatus = "DONE"
	QueueFailed     QueueStatus = "FAILED"
	QueueSkipped    QueueStatus = "SKIPPED"
)

// QueueItem is one game's unit of settlement work.
type QueueItem struct {
	ID            int64
	GameID        uuid.UUID
	Outcome       Outcome
	Status        QueueStatus
	Attempts      int
	NextAttemptAt time.Time
	LockedBy      *string
	LockedAt      *time.Time
	Reason        string
}

// Store is the ledger-store contract the processor runs against. The
// Postgres implementation lives in internal/store; tests use an in-memory
// fake. Create* methods report created=false on a uniqueness-constraint
// hit, which callers treat as "already done", never as an error.
type Store interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*Game, error)
	StampGameSettled(ctx context.Context, gameID uuid.UUID, at time.Time) error

	MarketsForGame(ctx context.Context, game *Game) ([]*Market, error)
	ForceLockMarket(ctx context.Context, marketID uuid.UUID, reason string) error
	SetMarketStatus(ctx context.Context, marketID uuid.UUID, status MarketStatus, outcome Outcome) error

	TradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*Trade, error)

	HasSettlements(ctx context.Context, gameID uuid.UUID) (bool, error)
	HasMarketSettlement(ctx context.Context, marketID uuid.UUID) (bool, error)
	CreateSettlement(ctx context.Context, s *MarketSettlement) (created bool, err error)

	CreateReceipt(ctx context.Context, r *Receipt) (created bool, err error)
	ConfirmReceipt(ctx context.Context, receiptID int64, payoutID, entryID *int64) error
	FailReceipt(ctx context.Context, receiptID int64, reason string) error

	CreatePayout(ctx context.Context, p *Payout) error
	CreateLedgerCredit(ctx context.Context, e *LedgerEntry) error

	CreateTreasuryEntry(ctx context.Context, t *TreasuryEntry) (created bool, err error)
}

// Queue is the settlement-queue contract the worker runs against.
// LockNext must be an atomic conditional update: two workers can never
// lock the same item.
type Queue interface {
	LockNext(ctx context.Context, workerID string, now time.Time) (*QueueItem, error)
	MarkDone(ctx context.Context, itemID int64) error
	MarkFailed(ctx context.Context, itemID int64, attempts int, nextAttempt time.Time, reason string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
}
