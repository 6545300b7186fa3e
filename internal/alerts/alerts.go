// Package alerts notifies operators about lifecycle milestones: tier
// promotions, retirements, protection elevations, and applied evolutions.
// Alerters are fan-out targets; a failing one never blocks the engine.
package alerts

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Severity grades an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification
type Alert struct {
	Severity   Severity
	Title      string
	Message    string
	StrategyID string
}

// Alerter delivers alerts to one channel
type Alerter interface {
	Send(alert Alert) error
}

// Manager fans alerts out to all registered alerters
type Manager struct {
	mu       sync.RWMutex
	alerters []Alerter
	log      zerolog.Logger
}

// NewManager builds an empty alert manager
func NewManager() *Manager {
	return &Manager{log: config.NewLogger("alerts")}
}

// Register adds a delivery channel
func (m *Manager) Register(a Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, a)
}

// Send delivers an alert to every channel, logging delivery failures
func (m *Manager) Send(alert Alert) {
	m.mu.RLock()
	alerters := append([]Alerter(nil), m.alerters...)
	m.mu.RUnlock()

	for _, a := range alerters {
		if err := a.Send(alert); err != nil {
			m.log.Warn().Err(err).Str("title", alert.Title).Msg("Alert delivery failed")
		}
	}
}

// NotifyPromotion reports a tier promotion
func (m *Manager) NotifyPromotion(s *strategy.Strategy, from, to strategy.LifecycleStatus) {
	m.Send(Alert{
		Severity:   SeverityInfo,
		Title:      "Strategy promoted",
		Message:    fmt.Sprintf("%s (%s) moved from %s to %s at score %.1f", s.Name, s.Symbol, from, to, s.Fitness*100),
		StrategyID: s.ID,
	})
}

// NotifyRetirement reports an automated retirement
func (m *Manager) NotifyRetirement(s *strategy.Strategy) {
	m.Send(Alert{
		Severity:   SeverityWarning,
		Title:      "Strategy retired",
		Message:    fmt.Sprintf("%s (%s) retired from %s at score %.1f", s.Name, s.Symbol, s.Status, s.Fitness*100),
		StrategyID: s.ID,
	})
}

// NotifyProtection reports a protection elevation
func (m *Manager) NotifyProtection(s *strategy.Strategy, level strategy.ProtectionLevel) {
	m.Send(Alert{
		Severity:   SeverityInfo,
		Title:      "Protection raised",
		Message:    fmt.Sprintf("%s (%s) is now %s at score %.1f", s.Name, s.Symbol, level, s.Fitness*100),
		StrategyID: s.ID,
	})
}

// EvolutionCommitted reports an applied evolution; it lets the manager
// register as an event sink on the scheduler
func (m *Manager) EvolutionCommitted(ev *strategy.EvolutionEvent) {
	m.Send(Alert{
		Severity: SeverityInfo,
		Title:    "Genome evolved",
		Message: fmt.Sprintf("strategy %s improved %.4f -> %.4f (%s, trigger %s)",
			ev.StrategyID, ev.OldFitness, ev.NewFitness, ev.Type, ev.Trigger),
		StrategyID: ev.StrategyID,
	})
}

// LogAlerter writes alerts to the structured log; always registered so
// every alert has at least one destination
type LogAlerter struct {
	log zerolog.Logger
}

// NewLogAlerter builds the log channel
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: config.NewLogger("alerts")}
}

func (l *LogAlerter) Send(alert Alert) error {
	event := l.log.Info()
	switch alert.Severity {
	case SeverityWarning:
		event = l.log.Warn()
	case SeverityCritical:
		event = l.log.Error()
	}
	event.Str("strategy_id", alert.StrategyID).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}
