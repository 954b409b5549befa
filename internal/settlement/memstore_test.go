package settlement_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PariLedger/internal/settlement"
)

// memStore is an in-memory settlement.Store that mirrors the Postgres
// behavior the processor relies on: uniqueness on receipts, settlements,
// and treasury entries, plus injectable write failures.
type memStore struct {
	mu sync.Mutex

	games       map[uuid.UUID]*settlement.Game
	markets     []*settlement.Market
	trades      map[uuid.UUID][]*settlement.Trade
	receipts    map[int64]*settlement.Receipt
	receiptKeys map[string]int64 // (market,user,effect) -> receipt id
	payouts     []*settlement.Payout
	entries     []*settlement.LedgerEntry
	settlements map[uuid.UUID]*settlement.MarketSettlement
	treasury    map[int64]*settlement.TreasuryEntry

	failPayoutFor map[uuid.UUID]bool // user id -> CreatePayout errors
	failCreditFor map[uuid.UUID]bool // user id -> CreateLedgerCredit errors

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		games:         make(map[uuid.UUID]*settlement.Game),
		trades:        make(map[uuid.UUID][]*settlement.Trade),
		receipts:      make(map[int64]*settlement.Receipt),
		receiptKeys:   make(map[string]int64),
		settlements:   make(map[uuid.UUID]*settlement.MarketSettlement),
		treasury:      make(map[int64]*settlement.TreasuryEntry),
		failPayoutFor: make(map[uuid.UUID]bool),
		failCreditFor: make(map[uuid.UUID]bool),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func receiptKey(marketID, userID uuid.UUID, effect settlement.EffectType) string {
	return fmt.Sprintf("%s|%s|%s", marketID, userID, effect)
}

func (m *memStore) addGame(g *settlement.Game) {
	m.games[g.ID] = g
}

func (m *memStore) addMarket(mk *settlement.Market) {
	m.markets = append(m.markets, mk)
}

func (m *memStore) addTrade(marketID uuid.UUID, userID uuid.UUID, amount string, side settlement.Side) *settlement.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &settlement.Trade{
		ID:        m.id(),
		UserID:    userID,
		MarketID:  marketID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Side:      side,
		CreatedAt: time.Now(),
	}
	m.trades[marketID] = append(m.trades[marketID], t)
	return t
}

func (m *memStore) GetGame(_ context.Context, gameID uuid.UUID) (*settlement.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) StampGameSettled(_ context.Context, gameID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return settlement.ErrNotFound
	}
	if g.SettledAt == nil {
		g.SettledAt = &at
	}
	return nil
}

func (m *memStore) MarketsForGame(_ context.Context, game *settlement.Game) ([]*settlement.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*settlement.Market
	for _, mk := range m.markets {
		if mk.GameID.Valid && mk.GameID.UUID == game.ID {
			out = append(out, mk)
			continue
		}
		if !mk.GameID.Valid && mk.ExternalGameID == game.ExternalID && mk.League == game.League {
			out = append(out, mk)
		}
	}
	return out, nil
}

func (m *memStore) ForceLockMarket(_ context.Context, marketID uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range m.markets {
		if mk.ID == marketID {
			mk.IsLocked = true
			return nil
		}
	}
	return settlement.ErrNotFound
}

func (m *memStore) SetMarketStatus(_ context.Context, marketID uuid.UUID, status settlement.MarketStatus, outcome settlement.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range m.markets {
		if mk.ID == marketID {
			mk.Status = status
			o := outcome
			mk.FinalOutcome = &o
			return nil
		}
	}
	return settlement.ErrNotFound
}

func (m *memStore) TradesForMarket(_ context.Context, marketID uuid.UUID) ([]*settlement.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[marketID], nil
}

func (m *memStore) HasSettlements(_ context.Context, gameID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settlements {
		if s.GameID == gameID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) HasMarketSettlement(_ context.Context, marketID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settlements[marketID]
	return ok, nil
}

func (m *memStore) CreateSettlement(_ context.Context, s *settlement.MarketSettlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.settlements[s.MarketID]; exists {
		return false, nil
	}
	s.ID = m.id()
	m.settlements[s.MarketID] = s
	return true, nil
}

func (m *memStore) CreateReceipt(_ context.Context, r *settlement.Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := receiptKey(r.MarketID, r.UserID, r.Effect)
	if _, exists := m.receiptKeys[key]; exists {
		return false, nil
	}
	r.ID = m.id()
	cp := *r
	m.receipts[r.ID] = &cp
	m.receiptKeys[key] = r.ID
	return true, nil
}

func (m *memStore) ConfirmReceipt(_ context.Context, receiptID int64, payoutID, entryID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptID]
	if !ok {
		return settlement.ErrNotFound
	}
	r.State = settlement.ReceiptConfirmed
	r.PayoutID = payoutID
	r.EntryID = entryID
	return nil
}

func (m *memStore) FailReceipt(_ context.Context, receiptID int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptID]
	if !ok {
		return settlement.ErrNotFound
	}
	r.State = settlement.ReceiptFailed
	r.Reason = reason
	return nil
}

func (m *memStore) CreatePayout(_ context.Context, p *settlement.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPayoutFor[p.UserID] {
		return fmt.Errorf("injected payout write failure")
	}
	p.ID = m.id()
	cp := *p
	m.payouts = append(m.payouts, &cp)
	return nil
}

func (m *memStore) CreateLedgerCredit(_ context.Context, e *settlement.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreditFor[e.UserID] {
		return fmt.Errorf("injected ledger write failure")
	}
	e.ID = m.id()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) CreateTreasuryEntry(_ context.Context, t *settlement.TreasuryEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.treasury[t.SettlementID]; exists {
		return false, nil
	}
	t.ID = m.id()
	m.treasury[t.SettlementID] = t
	return true, nil
}

// receiptByKey returns the receipt for a (market, user, effect) tuple.
func (m *memStore) receiptByKey(marketID, userID uuid.UUID, effect settlement.EffectType) *settlement.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.receiptKeys[receiptKey(marketID, userID, effect)]
	if !ok {
		return nil
	}
	return m.receipts[id]
}

// memQueue is an in-memory settlement.Queue with the same lock semantics
// as the Postgres conditional update.
type memQueue struct {
	mu     sync.Mutex
	items  []*settlement.QueueItem
	nextID int64
}

func newMemQueue() *memQueue {
	return &memQueue{}
}

func (q *memQueue) add(gameID uuid.UUID, outcome settlement.Outcome) *settlement.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	item := &settlement.QueueItem{
		ID:            q.nextID,
		GameID:        gameID,
		Outcome:       outcome,
		Status:        settlement.QueueQueued,
		NextAttemptAt: time.Now().Add(-time.Second),
	}
	q.items = append(q.items, item)
	return item
}

func (q *memQueue) LockNext(_ context.Context, workerID string, now time.Time) (*settlement.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		eligible := item.Status == settlement.QueueQueued || item.Status == settlement.QueueFailed
		if eligible && item.LockedBy == nil && !item.NextAttemptAt.After(now) {
			item.Status = settlement.QueueProcessing
			wid := workerID
			item.LockedBy = &wid
			at := now
			item.LockedAt = &at
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *memQueue) MarkDone(_ context.Context, itemID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == itemID {
			item.Status = settlement.QueueDone
			item.LockedBy = nil
			item.LockedAt = nil
			return nil
		}
	}
	return settlement.ErrNotFound
}

func (q *memQueue) MarkFailed(_ context.Context, itemID int64, attempts int, nextAttempt time.Time, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == itemID {
			item.Status = settlement.QueueFailed
			item.Attempts = attempts
			item.NextAttemptAt = nextAttempt
			item.Reason = reason
			item.LockedBy = nil
			item.LockedAt = nil
			return nil
		}
	}
	return settlement.ErrNotFound
}

func (q *memQueue) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, item := range q.items {
		if item.Status == settlement.QueueProcessing && item.LockedAt != nil && item.LockedAt.Before(cutoff) {
			item.Status = settlement.QueueQueued
			item.LockedBy = nil
			item.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// orphan backdates a PROCESSING item's lock, simulating a worker that
// died mid-flight.
func (q *memQueue) orphan(itemID int64, age time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == itemID && item.LockedAt != nil {
			at := time.Now().Add(-age)
			item.LockedAt = &at
		}
	}
}

func (q *memQueue) get(itemID int64) *settlement.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == itemID {
			cp := *item
			return &cp
		}
	}
	return nil
}
