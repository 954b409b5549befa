package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PariLedger/internal/observability"
	"PariLedger/internal/settlement"
)

// Enqueuer inserts settlement jobs; created=false means the game already
// has one, which the subscriber ACKs as handled.
type Enqueuer interface {
	Enqueue(ctx context.Context, gameID uuid.UUID, outcome settlement.Outcome) (bool, error)
}

// SubjectConfig maps a NATS subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

const gamesStream = "PARI_GAMES"

// DefaultSubjects covers the three terminal game statuses the pipeline
// publishes.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "pari.games.final.>", ConsumerName: "settle-games-final", StreamName: gamesStream},
		{Subject: "pari.games.canceled.>", ConsumerName: "settle-games-canceled", StreamName: gamesStream},
		{Subject: "pari.games.postponed.>", ConsumerName: "settle-games-postponed", StreamName: gamesStream},
	}
}

// NATSSubscriber consumes finalization events and enqueues settlement
// jobs. It does no settlement work itself; the queue row is the handoff.
type NATSSubscriber struct {
	js        jetstream.JetStream
	enqueuer  Enqueuer
	log       zerolog.Logger
	metrics   *observability.Metrics
	consumers []jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, enqueuer Enqueuer, log zerolog.Logger, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:       js,
		enqueuer: enqueuer,
		log:      log,
		metrics:  metrics,
	}
}

// Subscribe creates durable JetStream consumers for all configured
// subjects. Explicit ACK; parse failures are terminated (redelivery
// cannot fix a bad payload), transient enqueue failures are NAKed.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	ev, outcome, err := ParseGameFinal(msg.Data())
	if err != nil {
		ns.log.Error().Err(err).Str("subject", msg.Subject()).Msg("rejecting finalization event")
		if ns.metrics != nil {
			ns.metrics.EventsRejected.WithLabelValues("parse").Inc()
		}
		msg.Term()
		return
	}

	created, err := ns.enqueuer.Enqueue(ctx, ev.GameID, outcome)
	if err != nil {
		ns.log.Error().Err(err).Stringer("game_id", ev.GameID).Msg("enqueue failed, will redeliver")
		msg.Nak()
		return
	}

	result := "created"
	if !created {
		result = "duplicate"
	}
	if ns.metrics != nil {
		ns.metrics.EventsEnqueued.WithLabelValues(result).Inc()
	}
	ns.log.Info().
		Stringer("game_id", ev.GameID).
		Str("outcome", string(outcome)).
		Str("result", result).
		Msg("settlement job enqueued")
	msg.Ack()
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// EnsureStream creates the games stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      gamesStream,
		Subjects:  []string{"pari.games.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", gamesStream, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
