// Package ingestion consumes game-finalization events from NATS JetStream
// and turns them into settlement queue rows. It is the only place a
// declared outcome is derived; settlement itself trusts the queue row.
package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

// GameFinalEvent is the payload the sports-data pipeline publishes when a
// game reaches a terminal status.
type GameFinalEvent struct {
	GameID     uuid.UUID `json:"game_id"`
	ExternalID string    `json:"external_id"`
	League     string    `json:"league"`
	Status     string    `json:"status"` // final | canceled | postponed
	HomeScore  int       `json:"home_score"`
	AwayScore  int       `json:"away_score"`
	Outcome    string    `json:"outcome,omitempty"` // optional explicit HOME/AWAY
}

// ParseGameFinal validates a finalization payload and resolves the
// declared outcome: cancellations map directly, final games use the
// explicit outcome field or derive it from the scores. Tied finals with
// no explicit outcome are rejected — markets here are two-sided.
func ParseGameFinal(data []byte) (*GameFinalEvent, settlement.Outcome, error) {
	var ev GameFinalEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, "", fmt.Errorf("parse game final: %w", err)
	}
	if ev.GameID == uuid.Nil {
		return nil, "", fmt.Errorf("parse game final: missing game_id")
	}

	switch ev.Status {
	case "canceled":
		return &ev, settlement.OutcomeCanceled, nil
	case "postponed":
		return &ev, settlement.OutcomePostponed, nil
	case "final":
	default:
		return nil, "", fmt.Errorf("parse game final: non-terminal status %q", ev.Status)
	}

	if ev.Outcome != "" {
		o := settlement.Outcome(ev.Outcome)
		if o != settlement.OutcomeHome && o != settlement.OutcomeAway {
			return nil, "", fmt.Errorf("parse game final: invalid outcome %q", ev.Outcome)
		}
		return &ev, o, nil
	}

	switch {
	case ev.HomeScore > ev.AwayScore:
		return &ev, settlement.OutcomeHome, nil
	case ev.AwayScore > ev.HomeScore:
		return &ev, settlement.OutcomeAway, nil
	default:
		return nil, "", fmt.Errorf("parse game final: tied final %d-%d with no declared outcome", ev.HomeScore, ev.AwayScore)
	}
}
