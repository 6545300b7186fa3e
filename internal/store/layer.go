package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// cyclesPerGeneration controls how many commits advance the cycle counter
// before the generation counter steps forward.
const cyclesPerGeneration = 10

// allowedTransitions is the lifecycle adjacency map. Promotion moves one
// tier at a time; retirement is reachable from any live tier and terminal.
var allowedTransitions = map[strategy.LifecycleStatus][]strategy.LifecycleStatus{
	strategy.StatusSimulationInit: {strategy.StatusRealEnvSim, strategy.StatusRetired},
	strategy.StatusRealEnvSim:     {strategy.StatusSmallReal, strategy.StatusRetired},
	strategy.StatusSmallReal:      {strategy.StatusFullReal, strategy.StatusRetired},
	strategy.StatusFullReal:       {strategy.StatusElite, strategy.StatusRetired},
	strategy.StatusElite:          {strategy.StatusRetired},
	strategy.StatusRetired:        {},
}

// Layer is the protection layer: the single writer for strategy genome,
// status, and protection fields. Every mutation is validated against
// lifecycle invariants and made durable before the in-memory registry
// is updated, so a failed write leaves memory unchanged.
type Layer struct {
	store Store
	cfg   config.ProtectionConfig
	log   zerolog.Logger

	mu         sync.RWMutex
	strategies map[string]*strategy.Strategy
	generation int
	cycle      int
}

// NewLayer builds a protection layer on top of a durable store
func NewLayer(store Store, cfg config.ProtectionConfig) *Layer {
	return &Layer{
		store:      store,
		cfg:        cfg,
		log:        config.NewLogger("protection"),
		strategies: make(map[string]*strategy.Strategy),
		generation: 1,
		cycle:      1,
	}
}

// Restore loads the persisted population and resumes the generation and
// cycle counters at the maximum persisted values, defaulting to 1 when
// no prior state exists. Strategies on older schema versions are migrated
// forward before entering the registry.
func (l *Layer) Restore(ctx context.Context) error {
	list, err := l.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore strategies: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.strategies = make(map[string]*strategy.Strategy, len(list))
	l.generation, l.cycle = 1, 1
	for _, s := range list {
		if err := strategy.CheckCompatibility(s); err != nil {
			l.log.Warn().Err(err).Str("strategy_id", s.ID).
				Str("schema_version", s.SchemaVersion).
				Msg("Skipping strategy with incompatible schema")
			continue
		}
		if err := strategy.Migrate(s); err != nil {
			l.log.Warn().Err(err).Str("strategy_id", s.ID).
				Str("schema_version", s.SchemaVersion).
				Msg("Skipping strategy that failed schema migration")
			continue
		}
		l.strategies[s.ID] = s
		if s.Generation > l.generation {
			l.generation = s.Generation
		}
		if s.Cycle > l.cycle {
			l.cycle = s.Cycle
		}
	}

	l.log.Info().Int("strategies", len(l.strategies)).
		Int("generation", l.generation).Int("cycle", l.cycle).
		Msg("Restored strategy population")
	return nil
}

// Generation returns the current generation counter
func (l *Layer) Generation() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

// Cycle returns the current cycle counter
func (l *Layer) Cycle() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycle
}

// Get returns a copy of one strategy
func (l *Layer) Get(id string) (*strategy.Strategy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// List returns copies of the full population, retired included
func (l *Layer) List() []*strategy.Strategy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*strategy.Strategy, 0, len(l.strategies))
	for _, s := range l.strategies {
		out = append(out, s.Clone())
	}
	return out
}

// Register adds a new strategy to the population
func (l *Layer) Register(ctx context.Context, s *strategy.Strategy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.strategies[s.ID]; exists {
		return &InvariantError{
			Invariant: "unique_id",
			Detail:    fmt.Sprintf("strategy %s already registered", s.ID),
		}
	}

	clone := s.Clone()
	clone.Generation = l.generation
	if err := l.store.SaveStrategy(ctx, clone); err != nil {
		return err
	}
	l.strategies[clone.ID] = clone

	l.log.Info().Str("strategy_id", clone.ID).Str("name", clone.Name).
		Str("family", string(clone.Family)).Msg("Registered strategy")
	return nil
}

// CommitGenome atomically replaces a strategy's genome with a validated
// winner, records the evolution event, advances the lineage counters, and
// raises protection when the new fitness crosses a threshold. The durable
// write happens before the registry update; on error the registry is
// untouched and the previous genome stays live.
func (l *Layer) CommitGenome(ctx context.Context, id string, genome strategy.Genome, fitness float64, method strategy.EvolutionMethod, trigger string) (*strategy.EvolutionEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status == strategy.StatusRetired {
		return nil, &InvariantError{
			Invariant: "retired_terminal",
			Detail:    fmt.Sprintf("strategy %s is retired and cannot evolve", id),
		}
	}

	nextCycle := l.cycle + 1
	nextGeneration := l.generation
	if nextCycle%cyclesPerGeneration == 0 {
		nextGeneration++
	}

	now := time.Now().UTC()
	updated := cur.Clone()
	updated.Genome = genome.Clone()
	updated.Fitness = fitness
	updated.Generation = nextGeneration
	updated.Cycle = nextCycle
	updated.Method = method
	updated.UpdatedAt = now
	updated.LastEvolved = now
	updated.Protection = l.protectionFor(updated)

	ev := &strategy.EvolutionEvent{
		ID:          uuid.New().String(),
		StrategyID:  id,
		Generation:  nextGeneration,
		Cycle:       nextCycle,
		Type:        method,
		OldGenome:   cur.Genome.Clone(),
		NewGenome:   genome.Clone(),
		OldFitness:  cur.Fitness,
		NewFitness:  fitness,
		Improvement: fitness - cur.Fitness,
		Trigger:     trigger,
		CreatedAt:   now,
	}

	if err := l.store.SaveStrategyWithEvent(ctx, updated, ev); err != nil {
		return nil, fmt.Errorf("failed to commit genome: %w", err)
	}

	l.strategies[id] = updated
	l.generation = nextGeneration
	l.cycle = nextCycle

	l.log.Info().Str("strategy_id", id).
		Float64("old_fitness", cur.Fitness).Float64("new_fitness", fitness).
		Float64("improvement", ev.Improvement).
		Int("generation", nextGeneration).Int("cycle", nextCycle).
		Str("method", string(method)).Msg("Committed genome")
	return ev, nil
}

// UpdateMetrics refreshes a strategy's performance snapshot from the live
// feed and raises protection when the display score crosses a threshold
func (l *Layer) UpdateMetrics(ctx context.Context, id string, metrics strategy.MetricsBundle, fitness, realizedPnL float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return ErrNotFound
	}

	updated := cur.Clone()
	updated.Metrics = metrics
	updated.Fitness = fitness
	updated.RealizedPnL = realizedPnL
	updated.UpdatedAt = time.Now().UTC()
	updated.Protection = l.protectionFor(updated)

	if err := l.store.SaveStrategy(ctx, updated); err != nil {
		return fmt.Errorf("failed to update metrics: %w", err)
	}
	l.strategies[id] = updated
	return nil
}

// SetLowSince records or clears the time a strategy's score first dropped
// below the retirement threshold
func (l *Layer) SetLowSince(ctx context.Context, id string, since *time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return ErrNotFound
	}

	updated := cur.Clone()
	if since != nil {
		t := since.UTC()
		updated.LowSince = &t
	} else {
		updated.LowSince = nil
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := l.store.SaveStrategy(ctx, updated); err != nil {
		return fmt.Errorf("failed to update low watermark: %w", err)
	}
	l.strategies[id] = updated
	return nil
}

// TransitionStatus moves a strategy to an adjacent lifecycle tier. Tier
// skips, backward moves, and any transition out of retired are rejected
// with an InvariantError.
func (l *Layer) TransitionStatus(ctx context.Context, id string, next strategy.LifecycleStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return ErrNotFound
	}
	if !transitionAllowed(cur.Status, next) {
		return &InvariantError{
			Invariant: "tier_adjacency",
			Detail:    fmt.Sprintf("cannot transition %s from %s to %s", id, cur.Status, next),
		}
	}

	now := time.Now().UTC()
	updated := cur.Clone()
	updated.Status = next
	updated.StatusSince = now
	updated.UpdatedAt = now
	if next == strategy.StatusRetired {
		updated.AllocationRatio = 0
	}

	if err := l.store.SaveStrategy(ctx, updated); err != nil {
		return fmt.Errorf("failed to transition status: %w", err)
	}
	l.strategies[id] = updated

	l.log.Info().Str("strategy_id", id).
		Str("from", string(cur.Status)).Str("to", string(next)).
		Msg("Lifecycle transition")
	return nil
}

func transitionAllowed(from, to strategy.LifecycleStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SetAllocation updates a strategy's share of deployable capital
func (l *Layer) SetAllocation(ctx context.Context, id string, ratio float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return ErrNotFound
	}
	if ratio < 0 || ratio > 1 {
		return &InvariantError{
			Invariant: "allocation_bounds",
			Detail:    fmt.Sprintf("allocation ratio %.4f outside [0,1]", ratio),
		}
	}

	updated := cur.Clone()
	updated.AllocationRatio = ratio
	updated.UpdatedAt = time.Now().UTC()

	if err := l.store.SaveStrategy(ctx, updated); err != nil {
		return fmt.Errorf("failed to set allocation: %w", err)
	}
	l.strategies[id] = updated
	return nil
}

// Protect sets a strategy's protection level. Automated calls can only
// raise the level; force allows an administrative downgrade.
func (l *Layer) Protect(ctx context.Context, id string, level strategy.ProtectionLevel, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.strategies[id]
	if !ok {
		return ErrNotFound
	}
	if level < cur.Protection && !force {
		return &InvariantError{
			Invariant: "protection_monotone",
			Detail:    fmt.Sprintf("cannot lower protection of %s from %s to %s", id, cur.Protection, level),
		}
	}

	updated := cur.Clone()
	updated.Protection = level
	updated.UpdatedAt = time.Now().UTC()

	if err := l.store.SaveStrategy(ctx, updated); err != nil {
		return fmt.Errorf("failed to set protection: %w", err)
	}
	l.strategies[id] = updated

	l.log.Info().Str("strategy_id", id).Str("protection", level.String()).
		Bool("forced", force).Msg("Protection level changed")
	return nil
}

// protectionFor returns the protection level a strategy has earned based
// on its display score, never below its current level. Caller holds the
// write lock.
func (l *Layer) protectionFor(s *strategy.Strategy) strategy.ProtectionLevel {
	score := s.Fitness * 100
	earned := strategy.ProtectionNone
	switch {
	case score >= l.cfg.EliteScore:
		earned = strategy.ProtectionElite
	case score >= l.cfg.ProtectedScore:
		earned = strategy.ProtectionProtected
	}
	if earned > s.Protection {
		l.log.Info().Str("strategy_id", s.ID).Float64("score", score).
			Str("protection", earned.String()).Msg("Auto-raised protection")
		return earned
	}
	return s.Protection
}

// Snapshot persists a point-in-time copy of every live strategy's genome
// and performance under one label
func (l *Layer) Snapshot(ctx context.Context, label string) error {
	l.mu.RLock()
	population := make([]*strategy.Strategy, 0, len(l.strategies))
	for _, s := range l.strategies {
		population = append(population, s.Clone())
	}
	l.mu.RUnlock()

	now := time.Now().UTC()
	for _, s := range population {
		if s.Status == strategy.StatusRetired {
			continue
		}
		snap := &strategy.Snapshot{
			ID:         uuid.New().String(),
			StrategyID: s.ID,
			Genome:     s.Genome.Clone(),
			Fitness:    s.Fitness,
			Metrics:    s.Metrics,
			Label:      label,
			CreatedAt:  now,
		}
		if err := l.store.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to snapshot strategy %s: %w", s.ID, err)
		}
	}
	return nil
}

// History returns one page of a strategy's evolution events, newest first,
// with the total count for pagination
func (l *Layer) History(ctx context.Context, id string, limit, offset int) ([]*strategy.EvolutionEvent, int, error) {
	l.mu.RLock()
	_, ok := l.strategies[id]
	l.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	return l.store.ListEvents(ctx, id, limit, offset)
}

// Ping reports backend health
func (l *Layer) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close releases the underlying store
func (l *Layer) Close() {
	l.store.Close()
}
