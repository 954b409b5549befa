package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PreviewStore is the read-only slice of Store the preview needs.
type PreviewStore interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*Game, error)
	MarketsForGame(ctx context.Context, game *Game) ([]*Market, error)
	TradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*Trade, error)
}

// MarketPreview pairs a market with its would-be settlement result.
type MarketPreview struct {
	MarketID uuid.UUID
	Kind     string
	Status   MarketStatus
	Result   Result
}

// Preview runs the real settlement math against current trade data for
// every market of a game, writing nothing. It calls the same Calculate
// the processor does, so the admin dry-run cannot diverge from the
// eventual settlement.
func Preview(ctx context.Context, st PreviewStore, gameID uuid.UUID, outcome Outcome) ([]MarketPreview, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("preview: invalid outcome %q", outcome)
	}

	game, err := st.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("preview: load game %s: %w", gameID, err)
	}

	markets, err := st.MarketsForGame(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("preview: load markets for %s: %w", gameID, err)
	}

	previews := make([]MarketPreview, 0, len(markets))
	for _, m := range markets {
		trades, err := st.TradesForMarket(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("preview: load trades for market %s: %w", m.ID, err)
		}
		previews = append(previews, MarketPreview{
			MarketID: m.ID,
			Kind:     m.Kind,
			Status:   m.Status,
			Result:   Calculate(trades, outcome),
		})
	}

	return previews, nil
}
