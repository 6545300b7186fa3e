// Package events publishes committed evolution events to NATS so external
// consumers, the trading runtime first among them, can react to genome
// changes without polling the API.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Publisher forwards evolution events onto a NATS subject. It registers
// as an event sink on the scheduler.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewPublisher connects to NATS and builds a publisher
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("evofunk-engine"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	log := config.NewLogger("events")
	log.Info().Str("url", url).Str("subject", subject).Msg("Connected to NATS")

	return &Publisher{conn: conn, subject: subject, log: log}, nil
}

// EvolutionCommitted publishes one event. Publishing is best effort: a
// failure is logged, never propagated, because the commit it describes
// is already durable.
func (p *Publisher) EvolutionCommitted(ev *strategy.EvolutionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to marshal evolution event")
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.log.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to publish evolution event")
		return
	}
	p.log.Debug().Str("event_id", ev.ID).Str("strategy_id", ev.StrategyID).
		Msg("Published evolution event")
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}
}
