// Package strategy defines the core domain model for the evolution engine:
// strategies, genomes, lifecycle states, and the append-only records that
// track how a strategy changed over time.
package strategy

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Family identifies a strategy family with curated parameter ranges
type Family string

const (
	FamilyMomentum      Family = "momentum"
	FamilyMeanReversion Family = "mean_reversion"
	FamilyBreakout      Family = "breakout"
	FamilyHighFrequency Family = "high_frequency"
	FamilyTrendFollow   Family = "trend_following"
	FamilyGridTrading   Family = "grid_trading"
)

// Genome is a strategy's full parameter-name-to-value mapping
type Genome map[string]float64

// Clone creates a deep copy of the genome
func (g Genome) Clone() Genome {
	clone := make(Genome, len(g))
	for k, v := range g {
		clone[k] = v
	}
	return clone
}

// Distance returns a normalized distance in [0,1] between two genomes.
// Each parameter contributes its relative change capped at 1.0; parameters
// present in only one genome count as a full unit of distance.
func (g Genome) Distance(other Genome) float64 {
	if len(g) == 0 && len(other) == 0 {
		return 0
	}

	keys := make(map[string]struct{}, len(g)+len(other))
	for k := range g {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}

	total := 0.0
	for k := range keys {
		a, okA := g[k]
		b, okB := other[k]
		if !okA || !okB {
			total += 1.0
			continue
		}
		denom := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1e-9)
		total += math.Min(math.Abs(a-b)/denom, 1.0)
	}

	return total / float64(len(keys))
}

// LifecycleStatus is the capital-exposure tier of a strategy
type LifecycleStatus string

const (
	StatusSimulationInit LifecycleStatus = "simulation_init"
	StatusRealEnvSim     LifecycleStatus = "real_env_simulation"
	StatusSmallReal      LifecycleStatus = "small_real_trading"
	StatusFullReal       LifecycleStatus = "full_real_trading"
	StatusElite          LifecycleStatus = "elite_optimization"
	StatusRetired        LifecycleStatus = "retired"
)

// IsTrading reports whether the status currently receives capital
func (s LifecycleStatus) IsTrading() bool {
	switch s {
	case StatusSmallReal, StatusFullReal, StatusElite:
		return true
	}
	return false
}

// ProtectionLevel is a floor that prevents automated culling of
// historically strong strategies. Levels only increase automatically.
type ProtectionLevel int

const (
	ProtectionNone ProtectionLevel = iota
	ProtectionProtected
	ProtectionElite
)

// String returns the protection level name
func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionProtected:
		return "protected"
	case ProtectionElite:
		return "elite"
	default:
		return "none"
	}
}

// EvolutionMethod identifies how a genome was produced
type EvolutionMethod string

const (
	MethodMutation       EvolutionMethod = "mutation"
	MethodCrossover      EvolutionMethod = "crossover"
	MethodEliteCarryover EvolutionMethod = "elite_carryover"
	MethodManual         EvolutionMethod = "manual"
)

// MetricsBundle holds the observed performance metrics of a strategy
// over a measurement window
type MetricsBundle struct {
	Score        float64       `json:"score"` // 0-100 display scale
	WinRate      float64       `json:"win_rate"`
	TotalReturn  float64       `json:"total_return"`
	AvgHoldTime  time.Duration `json:"avg_hold_time"`
	TradeCount   int           `json:"trade_count"`
	ProfitFactor float64       `json:"profit_factor"`
	MaxDrawdown  float64       `json:"max_drawdown"`
	SharpeRatio  float64       `json:"sharpe_ratio"`
}

// Strategy is the central entity managed by the engine
type Strategy struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Family Family `json:"family"`

	Genome        Genome `json:"genome"`
	SchemaVersion string `json:"schema_version"`

	// Lineage
	Generation int             `json:"generation"`
	Cycle      int             `json:"cycle"`
	ParentIDs  []string        `json:"parent_ids,omitempty"`
	Method     EvolutionMethod `json:"method"`

	// Performance snapshot
	Fitness     float64       `json:"fitness"` // [0,1]
	Metrics     MetricsBundle `json:"metrics"`
	RealizedPnL float64       `json:"realized_pnl"`

	// Lifecycle
	Status          LifecycleStatus `json:"status"`
	Protection      ProtectionLevel `json:"protection"`
	AllocationRatio float64         `json:"allocation_ratio"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StatusSince time.Time  `json:"status_since"`
	LastEvolved time.Time  `json:"last_evolved"`
	LowSince    *time.Time `json:"low_since,omitempty"` // score below retirement threshold since
}

// New creates a strategy in the initial simulation tier
func New(name, symbol string, family Family, genome Genome) *Strategy {
	now := time.Now().UTC()
	return &Strategy{
		ID:            uuid.New().String(),
		Name:          name,
		Symbol:        symbol,
		Family:        family,
		Genome:        genome.Clone(),
		SchemaVersion: SchemaVersion,
		Generation:    1,
		Cycle:         1,
		Method:        MethodManual,
		Status:        StatusSimulationInit,
		Protection:    ProtectionNone,
		CreatedAt:     now,
		UpdatedAt:     now,
		StatusSince:   now,
	}
}

// Clone returns a deep copy of the strategy
func (s *Strategy) Clone() *Strategy {
	clone := *s
	clone.Genome = s.Genome.Clone()
	if s.ParentIDs != nil {
		clone.ParentIDs = append([]string(nil), s.ParentIDs...)
	}
	if s.LowSince != nil {
		t := *s.LowSince
		clone.LowSince = &t
	}
	return &clone
}

// DwellTime returns the elapsed time in the current tier
func (s *Strategy) DwellTime(now time.Time) time.Duration {
	if s.StatusSince.IsZero() {
		return 0
	}
	return now.Sub(s.StatusSince)
}

// EvolutionEvent is an immutable audit record of one genome change.
// Events are append-only; they are never mutated or deleted.
type EvolutionEvent struct {
	ID          string          `json:"id"`
	StrategyID  string          `json:"strategy_id"`
	Generation  int             `json:"generation"`
	Cycle       int             `json:"cycle"`
	Type        EvolutionMethod `json:"type"`
	OldGenome   Genome          `json:"old_genome"`
	NewGenome   Genome          `json:"new_genome"`
	OldFitness  float64         `json:"old_fitness"`
	NewFitness  float64         `json:"new_fitness"`
	Improvement float64         `json:"improvement"`
	Trigger     string          `json:"trigger"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Snapshot is a point-in-time copy of a strategy's genome and
// performance, used to restore the last known-good population state
type Snapshot struct {
	ID         string        `json:"id"`
	StrategyID string        `json:"strategy_id"`
	Genome     Genome        `json:"genome"`
	Fitness    float64       `json:"fitness"`
	Metrics    MetricsBundle `json:"metrics"`
	Label      string        `json:"label"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ValidationRecord is the result of a simulated candidate trial.
// Ephemeral: logged for traceability but not required to survive restart.
type ValidationRecord struct {
	StrategyID       string        `json:"strategy_id"`
	Candidate        Genome        `json:"candidate"`
	Predicted        MetricsBundle `json:"predicted"`
	PredictedFitness float64       `json:"predicted_fitness"`
	Confidence       float64       `json:"confidence"`
	Success          bool          `json:"success"`
	Reason           string        `json:"reason,omitempty"`
}
