// Package lifecycle promotes, retires, and funds strategies across the
// capital-exposure tiers. Promotion needs both a dwell time in the current
// tier and a score gate for the next one; retirement needs a sustained
// low score. Capital reallocation is gated by system health, transitions
// are not.
package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/store"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Tier describes one lifecycle stage: its capital share, the minimum
// dwell time before a strategy can leave it, and the score required to
// enter it (display scale 0-100).
type Tier struct {
	Status     strategy.LifecycleStatus
	Allocation decimal.Decimal
	MinDwell   time.Duration
	EntryScore float64
	Next       strategy.LifecycleStatus
	RequirePnL bool
}

// tiers is the promotion ladder. The elite tier has no successor; its
// dwell time only bounds the retirement window.
var tiers = map[strategy.LifecycleStatus]Tier{
	strategy.StatusSimulationInit: {
		Status:     strategy.StatusSimulationInit,
		Allocation: decimal.Zero,
		MinDwell:   24 * time.Hour,
		EntryScore: 0,
		Next:       strategy.StatusRealEnvSim,
	},
	strategy.StatusRealEnvSim: {
		Status:     strategy.StatusRealEnvSim,
		Allocation: decimal.Zero,
		MinDwell:   72 * time.Hour,
		EntryScore: 50,
		Next:       strategy.StatusSmallReal,
	},
	strategy.StatusSmallReal: {
		Status:     strategy.StatusSmallReal,
		Allocation: decimal.NewFromFloat(0.05),
		MinDwell:   168 * time.Hour,
		EntryScore: 65,
		Next:       strategy.StatusFullReal,
	},
	strategy.StatusFullReal: {
		Status:     strategy.StatusFullReal,
		Allocation: decimal.NewFromFloat(0.20),
		MinDwell:   720 * time.Hour,
		EntryScore: 70,
		Next:       strategy.StatusElite,
		RequirePnL: true,
	},
	strategy.StatusElite: {
		Status:     strategy.StatusElite,
		Allocation: decimal.NewFromFloat(0.30),
		MinDwell:   720 * time.Hour,
		EntryScore: 80,
	},
}

// TierFor returns the tier definition for a status
func TierFor(status strategy.LifecycleStatus) (Tier, bool) {
	t, ok := tiers[status]
	return t, ok
}

// CapitalSource reports the account equity available for deployment
type CapitalSource interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// Notifier receives lifecycle alerts. The alerts package implements it.
type Notifier interface {
	NotifyPromotion(s *strategy.Strategy, from, to strategy.LifecycleStatus)
	NotifyRetirement(s *strategy.Strategy)
}

// Manager runs periodic lifecycle passes over the whole population
type Manager struct {
	layer    *store.Layer
	capital  CapitalSource
	notifier Notifier
	cfg      config.LifecycleConfig
	log      zerolog.Logger
	clock    func() time.Time
}

// NewManager builds a lifecycle manager. notifier may be nil.
func NewManager(layer *store.Layer, capital CapitalSource, notifier Notifier, cfg config.LifecycleConfig) *Manager {
	return &Manager{
		layer:    layer,
		capital:  capital,
		notifier: notifier,
		cfg:      cfg,
		log:      config.NewLogger("lifecycle"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Run evaluates the population on the configured interval until the
// context is cancelled
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Evaluate(ctx); err != nil {
				m.log.Error().Err(err).Msg("Lifecycle pass failed")
			}
		}
	}
}

// Evaluate runs one full lifecycle pass: retirement checks, promotion
// checks, then a capital reallocation over the resulting registry.
func (m *Manager) Evaluate(ctx context.Context) error {
	now := m.clock()

	for _, s := range m.layer.List() {
		if s.Status == strategy.StatusRetired {
			continue
		}
		if retired, err := m.checkRetirement(ctx, s, now); err != nil {
			m.log.Error().Err(err).Str("strategy_id", s.ID).Msg("Retirement check failed")
		} else if retired {
			continue
		}
		if err := m.checkPromotion(ctx, s, now); err != nil {
			m.log.Error().Err(err).Str("strategy_id", s.ID).Msg("Promotion check failed")
		}
	}

	return m.Reallocate(ctx)
}

// checkRetirement retires a strategy whose score has stayed below the
// retirement threshold for at least half its tier's minimum dwell.
// Protected and elite strategies are exempt from automated culling.
func (m *Manager) checkRetirement(ctx context.Context, s *strategy.Strategy, now time.Time) (bool, error) {
	score := s.Fitness * 100

	if score >= m.cfg.RetirementScore {
		if s.LowSince != nil {
			return false, m.layer.SetLowSince(ctx, s.ID, nil)
		}
		return false, nil
	}

	if s.LowSince == nil {
		return false, m.layer.SetLowSince(ctx, s.ID, &now)
	}

	if s.Protection >= strategy.ProtectionProtected {
		return false, nil
	}

	tier, ok := tiers[s.Status]
	if !ok {
		return false, nil
	}
	if now.Sub(*s.LowSince) < tier.MinDwell/2 {
		return false, nil
	}

	if err := m.layer.TransitionStatus(ctx, s.ID, strategy.StatusRetired); err != nil {
		return false, err
	}
	m.log.Warn().Str("strategy_id", s.ID).Float64("score", score).
		Dur("low_for", now.Sub(*s.LowSince)).Msg("Strategy retired")
	if m.notifier != nil {
		m.notifier.NotifyRetirement(s)
	}
	return true, nil
}

// checkPromotion moves a strategy one tier up when it has dwelled long
// enough and clears the next tier's score gate. Entry into full real
// trading additionally requires positive realized P&L when configured.
func (m *Manager) checkPromotion(ctx context.Context, s *strategy.Strategy, now time.Time) error {
	tier, ok := tiers[s.Status]
	if !ok || tier.Next == "" {
		return nil
	}
	next := tiers[tier.Next]

	if s.DwellTime(now) < tier.MinDwell {
		return nil
	}
	if s.Fitness*100 < next.EntryScore {
		return nil
	}
	if next.RequirePnL && m.cfg.RequireRealizedPnL && s.RealizedPnL <= 0 {
		m.log.Debug().Str("strategy_id", s.ID).
			Float64("realized_pnl", s.RealizedPnL).
			Msg("Promotion blocked: realized P&L not positive")
		return nil
	}

	if err := m.layer.TransitionStatus(ctx, s.ID, tier.Next); err != nil {
		return err
	}
	// promotions checkpoint the whole live population; a snapshot failure
	// never rolls back the transition
	if err := m.layer.Snapshot(ctx, "promotion"); err != nil {
		m.log.Warn().Err(err).Str("strategy_id", s.ID).Msg("Promotion snapshot failed")
	}
	m.log.Info().Str("strategy_id", s.ID).
		Str("from", string(s.Status)).Str("to", string(tier.Next)).
		Float64("score", s.Fitness*100).Msg("Strategy promoted")
	if m.notifier != nil {
		m.notifier.NotifyPromotion(s, s.Status, tier.Next)
	}
	return nil
}

// Reallocate recomputes every strategy's capital share from the full
// registry. The pass is skipped, with statuses left intact, when the
// capital source is unreachable or the registry is empty: health gates
// funding, never transitions.
func (m *Manager) Reallocate(ctx context.Context) error {
	population := m.layer.List()
	if len(population) == 0 {
		m.log.Debug().Msg("Skipping reallocation: empty registry")
		return nil
	}

	equity, err := m.capital.Equity(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Skipping reallocation: capital source unreachable")
		return nil
	}

	// sum requested shares; scale down proportionally if oversubscribed
	total := decimal.Zero
	shares := make(map[string]decimal.Decimal, len(population))
	for _, s := range population {
		if s.Status == strategy.StatusRetired {
			continue
		}
		tier, ok := tiers[s.Status]
		if !ok {
			continue
		}
		shares[s.ID] = tier.Allocation
		total = total.Add(tier.Allocation)
	}

	scale := decimal.NewFromInt(1)
	if total.GreaterThan(decimal.NewFromInt(1)) {
		scale = decimal.NewFromInt(1).Div(total)
	}

	for id, share := range shares {
		ratio := share.Mul(scale)
		f, _ := ratio.Float64()
		if err := m.layer.SetAllocation(ctx, id, f); err != nil {
			m.log.Error().Err(err).Str("strategy_id", id).Msg("Failed to set allocation")
			continue
		}
		if !ratio.IsZero() {
			m.log.Debug().Str("strategy_id", id).
				Str("ratio", ratio.String()).
				Str("capital", equity.Mul(ratio).StringFixed(2)).
				Msg("Capital allocated")
		}
	}
	return nil
}
