// Package engine is the facade the API surfaces call into. Every method
// returns structured results across the boundary; none of them panic.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/lifecycle"
	"github.com/ajitpratap0/evofunk/internal/scheduler"
	"github.com/ajitpratap0/evofunk/internal/store"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// topStrategyCount bounds the leaderboard in the system summary
const topStrategyCount = 5

// Engine ties the protection layer and the scheduler together behind a
// small read/trigger API
type Engine struct {
	layer *store.Layer
	sched *scheduler.Scheduler
	log   zerolog.Logger
}

// New builds the facade
func New(layer *store.Layer, sched *scheduler.Scheduler) *Engine {
	return &Engine{
		layer: layer,
		sched: sched,
		log:   config.NewLogger("engine"),
	}
}

// EvolveNow triggers an immediate evolution for one strategy, bypassing
// the scheduler's cooldown. The result reports failure reasons instead
// of returning errors so callers always get a structured answer.
func (e *Engine) EvolveNow(ctx context.Context, strategyID string) scheduler.Result {
	return e.sched.EvolveNow(ctx, strategyID)
}

// LifecycleInfo is the full lifecycle picture for one strategy
type LifecycleInfo struct {
	StrategyID      string                   `json:"strategy_id"`
	Name            string                   `json:"name"`
	Symbol          string                   `json:"symbol"`
	Family          strategy.Family          `json:"family"`
	Status          strategy.LifecycleStatus `json:"status"`
	Protection      string                   `json:"protection"`
	Fitness         float64                  `json:"fitness"`
	Score           float64                  `json:"score"`
	AllocationRatio float64                  `json:"allocation_ratio"`
	Generation      int                      `json:"generation"`
	Cycle           int                      `json:"cycle"`
	DwellTime       time.Duration            `json:"dwell_time"`
	MinDwell        time.Duration            `json:"min_dwell,omitempty"`
	NextStatus      strategy.LifecycleStatus `json:"next_status,omitempty"`
	NextEntryScore  float64                  `json:"next_entry_score,omitempty"`
	LowSince        *time.Time               `json:"low_since,omitempty"`
	LastEvolved     time.Time                `json:"last_evolved,omitempty"`
	RealizedPnL     float64                  `json:"realized_pnl"`
}

// GetLifecycleStatus reports where a strategy sits in the tier ladder and
// what the next promotion requires
func (e *Engine) GetLifecycleStatus(strategyID string) (*LifecycleInfo, error) {
	s, err := e.layer.Get(strategyID)
	if err != nil {
		return nil, err
	}

	info := &LifecycleInfo{
		StrategyID:      s.ID,
		Name:            s.Name,
		Symbol:          s.Symbol,
		Family:          s.Family,
		Status:          s.Status,
		Protection:      s.Protection.String(),
		Fitness:         s.Fitness,
		Score:           s.Fitness * 100,
		AllocationRatio: s.AllocationRatio,
		Generation:      s.Generation,
		Cycle:           s.Cycle,
		DwellTime:       s.DwellTime(time.Now().UTC()),
		LowSince:        s.LowSince,
		LastEvolved:     s.LastEvolved,
		RealizedPnL:     s.RealizedPnL,
	}

	if tier, ok := lifecycle.TierFor(s.Status); ok {
		info.MinDwell = tier.MinDwell
		if tier.Next != "" {
			info.NextStatus = tier.Next
			if next, ok := lifecycle.TierFor(tier.Next); ok {
				info.NextEntryScore = next.EntryScore
			}
		}
	}
	return info, nil
}

// HistoryEntry pairs an evolution event with the impact analysis of its
// genome change
type HistoryEntry struct {
	Event  *strategy.EvolutionEvent `json:"event"`
	Impact strategy.DiffAnalysis    `json:"impact"`
}

// HistoryPage is one page of evolution history, newest first
type HistoryPage struct {
	StrategyID string         `json:"strategy_id"`
	Entries    []HistoryEntry `json:"entries"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// GetEvolutionHistory returns a page of a strategy's evolution events,
// each annotated with which parameter groups the change touched
func (e *Engine) GetEvolutionHistory(ctx context.Context, strategyID string, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	events, total, err := e.layer.History(ctx, strategyID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, HistoryEntry{
			Event:  ev,
			Impact: strategy.AnalyzeDiff(ev.OldGenome, ev.NewGenome),
		})
	}

	return &HistoryPage{
		StrategyID: strategyID,
		Entries:    entries,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// TopStrategy is one leaderboard row in the system summary
type TopStrategy struct {
	StrategyID string                   `json:"strategy_id"`
	Name       string                   `json:"name"`
	Fitness    float64                  `json:"fitness"`
	Score      float64                  `json:"score"`
	Status     strategy.LifecycleStatus `json:"status"`
}

// SystemSummary is the population-wide dashboard view
type SystemSummary struct {
	TotalStrategies    int            `json:"total_strategies"`
	ByStatus           map[string]int `json:"by_status"`
	TopStrategies      []TopStrategy  `json:"top_strategies"`
	AverageFitness     float64        `json:"average_fitness"`
	CapitalUtilization float64        `json:"capital_utilization"`
	Generation         int            `json:"generation"`
	Cycle              int            `json:"cycle"`
	QueueDepth         int            `json:"queue_depth"`
	StoreHealthy       bool           `json:"store_healthy"`
	StoreError         string         `json:"store_error,omitempty"`
}

// GetSystemSummary aggregates the registry into status counts, the top
// strategies by fitness, and capital utilization across trading tiers.
// Store reachability is included so operators see outages here even
// while reads keep working.
func (e *Engine) GetSystemSummary(ctx context.Context) *SystemSummary {
	population := e.layer.List()

	summary := &SystemSummary{
		TotalStrategies: len(population),
		ByStatus:        make(map[string]int),
		Generation:      e.layer.Generation(),
		Cycle:           e.layer.Cycle(),
		QueueDepth:      e.sched.QueueDepth(),
		StoreHealthy:    true,
	}
	if err := e.layer.Ping(ctx); err != nil {
		summary.StoreHealthy = false
		summary.StoreError = err.Error()
	}

	fitnessSum := 0.0
	live := 0
	for _, s := range population {
		summary.ByStatus[string(s.Status)]++
		if s.Status == strategy.StatusRetired {
			continue
		}
		live++
		fitnessSum += s.Fitness
		summary.CapitalUtilization += s.AllocationRatio
	}
	if live > 0 {
		summary.AverageFitness = fitnessSum / float64(live)
	}

	sort.Slice(population, func(i, j int) bool { return population[i].Fitness > population[j].Fitness })
	for _, s := range population {
		if s.Status == strategy.StatusRetired {
			continue
		}
		summary.TopStrategies = append(summary.TopStrategies, TopStrategy{
			StrategyID: s.ID,
			Name:       s.Name,
			Fitness:    s.Fitness,
			Score:      s.Fitness * 100,
			Status:     s.Status,
		})
		if len(summary.TopStrategies) == topStrategyCount {
			break
		}
	}
	return summary
}

// ListStrategies returns the whole population for the API layer
func (e *Engine) ListStrategies() []*strategy.Strategy {
	return e.layer.List()
}

// GetStrategy returns one strategy
func (e *Engine) GetStrategy(strategyID string) (*strategy.Strategy, error) {
	return e.layer.Get(strategyID)
}

// Health reports whether the persistence backend is reachable
func (e *Engine) Health(ctx context.Context) error {
	return e.layer.Ping(ctx)
}
