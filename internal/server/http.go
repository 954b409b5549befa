// Package server exposes the read-only admin API: settlement previews,
// treasury reporting, and health probes. There is no write surface —
// settlement is driven by the queue, never by HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PariLedger/internal/observability"
	"PariLedger/internal/query"
	"PariLedger/internal/settlement"
)

type AdminServer struct {
	addr     string
	store    settlement.PreviewStore
	treasury *query.TreasuryService
	health   *observability.HealthChecker
	log      zerolog.Logger
}

func NewAdminServer(
	addr string,
	store settlement.PreviewStore,
	treasury *query.TreasuryService,
	health *observability.HealthChecker,
	log zerolog.Logger,
) *AdminServer {
	return &AdminServer{
		addr:     addr,
		store:    store,
		treasury: treasury,
		health:   health,
		log:      log,
	}
}

func (s *AdminServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/treasury/balance", s.handleTreasuryBalance)
		r.Get("/treasury/ledger", s.handleTreasuryLedger)
		r.Get("/games/{gameID}/settlement/preview", s.handlePreview)
	})

	return r
}

// ListenAndServe blocks serving the admin API until the server errors.
func (s *AdminServer) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", s.addr).Msg("admin API listening")
	return srv.ListenAndServe()
}

func (s *AdminServer) handleTreasuryBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := s.treasury.GetBalance(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (s *AdminServer) handleTreasuryLedger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var beforeID *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		beforeID = &id
	}

	entries, err := s.treasury.GetLedger(r.Context(), limit, beforeID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handlePreview runs the dry-run settlement math for a game under a
// hypothetical outcome. Identical arithmetic to the processor's path.
func (s *AdminServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}

	outcome := settlement.Outcome(r.URL.Query().Get("outcome"))
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be one of HOME, AWAY, CANCELED, POSTPONED")
		return
	}

	previews, err := settlement.Preview(r.Context(), s.store, gameID, outcome)
	if err != nil {
		if err == settlement.ErrNotFound {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"game_id": gameID,
		"outcome": outcome,
		"markets": previewPayload(previews),
	})
}

type marketPreviewJSON struct {
	MarketID       uuid.UUID    `json:"market_id"`
	Kind           string       `json:"kind"`
	Status         string       `json:"status"`
	GrossPool      string       `json:"gross_pool"`
	WinningPool    string       `json:"winning_pool"`
	LosingPool     string       `json:"losing_pool"`
	PlatformFee    string       `json:"platform_fee"`
	NetDistributed string       `json:"net_distributed"`
	WinnerCount    int          `json:"winner_count"`
	LoserCount     int          `json:"loser_count"`
	Payouts        []payoutJSON `json:"payouts,omitempty"`
	Refunds        []refundJSON `json:"refunds,omitempty"`
}

type payoutJSON struct {
	TradeID int64     `json:"trade_id"`
	UserID  uuid.UUID `json:"user_id"`
	Stake   string    `json:"stake"`
	Profit  string    `json:"profit"`
	Amount  string    `json:"amount"`
}

type refundJSON struct {
	TradeID int64     `json:"trade_id"`
	UserID  uuid.UUID `json:"user_id"`
	Amount  string    `json:"amount"`
}

func previewPayload(previews []settlement.MarketPreview) []marketPreviewJSON {
	out := make([]marketPreviewJSON, 0, len(previews))
	for _, p := range previews {
		mp := marketPreviewJSON{
			MarketID:       p.MarketID,
			Kind:           p.Kind,
			Status:         string(p.Status),
			GrossPool:      p.Result.GrossPool.Round(2).String(),
			WinningPool:    p.Result.WinningPool.Round(2).String(),
			LosingPool:     p.Result.LosingPool.Round(2).String(),
			PlatformFee:    p.Result.PlatformFee.Round(2).String(),
			NetDistributed: p.Result.NetDistributed.Round(2).String(),
			WinnerCount:    p.Result.WinnerCount,
			LoserCount:     p.Result.LoserCount,
		}
		for _, pay := range p.Result.Payouts {
			mp.Payouts = append(mp.Payouts, payoutJSON{
				TradeID: pay.TradeID,
				UserID:  pay.UserID,
				Stake:   pay.Stake.Round(2).String(),
				Profit:  pay.Profit.Round(2).String(),
				Amount:  pay.Amount.Round(2).String(),
			})
		}
		for _, ref := range p.Result.Refunds {
			mp.Refunds = append(mp.Refunds, refundJSON{
				TradeID: ref.TradeID,
				UserID:  ref.UserID,
				Amount:  ref.Amount.Round(2).String(),
			})
		}
		out = append(out, mp)
	}
	return out
}

func (s *AdminServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
