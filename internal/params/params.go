// Package params normalizes each strategy family's raw genome into bounded,
// weighted parameter specifications usable by the mutation algorithm.
package params

import (
	"math"
	"sort"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Spec describes one tunable parameter: its current value, bounds, step
// size for snapping, and importance weight in [0,1]
type Spec struct {
	Name    string  `json:"name"`
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Weight  float64 `json:"weight"`
}

// Clamp bounds a value to the spec's [Min, Max] range
func (s Spec) Clamp(v float64) float64 {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Snap rounds a value to the nearest multiple of the spec's step size,
// then clamps it back into range. A zero step disables snapping.
func (s Spec) Snap(v float64) float64 {
	if s.Step > 0 {
		v = math.Round(v/s.Step) * s.Step
	}
	return s.Clamp(v)
}

// rangeDef is a curated bound/weight definition for a known parameter
type rangeDef struct {
	Min    float64
	Max    float64
	Step   float64
	Weight float64
}

// Curated ranges reflect domain knowledge: stop-loss style parameters are
// bounded tightly, lookback periods generously.
var familyRanges = map[strategy.Family]map[string]rangeDef{
	strategy.FamilyMomentum: {
		"lookback_period":    {5, 100, 1, 0.90},
		"momentum_threshold": {0.001, 0.10, 0.001, 0.80},
		"stop_loss_pct":      {0.005, 0.05, 0.001, 0.95},
		"take_profit_pct":    {0.01, 0.15, 0.005, 0.70},
		"position_size_pct":  {0.01, 0.20, 0.01, 0.60},
		"rsi_period":         {7, 28, 1, 0.50},
		"rsi_overbought":     {60, 85, 1, 0.40},
		"rsi_oversold":       {15, 40, 1, 0.40},
	},
	strategy.FamilyMeanReversion: {
		"bollinger_period": {10, 50, 1, 0.85},
		"bollinger_std":    {1.0, 3.5, 0.1, 0.90},
		"entry_deviation":  {0.5, 3.0, 0.1, 0.80},
		"exit_deviation":   {0.0, 1.5, 0.1, 0.65},
		"stop_loss_pct":    {0.005, 0.05, 0.001, 0.95},
		"max_hold_bars":    {10, 500, 10, 0.50},
	},
	strategy.FamilyBreakout: {
		"channel_period":     {10, 100, 1, 0.90},
		"breakout_threshold": {0.001, 0.05, 0.001, 0.85},
		"confirmation_bars":  {1, 10, 1, 0.60},
		"stop_loss_pct":      {0.005, 0.05, 0.001, 0.95},
		"trailing_stop_pct":  {0.005, 0.08, 0.005, 0.70},
		"volume_multiplier":  {1.0, 5.0, 0.1, 0.50},
	},
	strategy.FamilyHighFrequency: {
		"tick_window":      {10, 500, 10, 0.90},
		"spread_threshold": {0.0001, 0.01, 0.0001, 0.95},
		"order_timeout_ms": {50, 5000, 50, 0.70},
		"max_inventory":    {1, 50, 1, 0.80},
		"skew_factor":      {0.0, 2.0, 0.05, 0.60},
		"stop_loss_pct":    {0.001, 0.02, 0.0005, 0.95},
	},
	strategy.FamilyTrendFollow: {
		"fast_ema_period": {5, 50, 1, 0.90},
		"slow_ema_period": {20, 200, 5, 0.90},
		"adx_threshold":   {15, 40, 1, 0.70},
		"stop_loss_pct":   {0.01, 0.08, 0.005, 0.95},
		"trail_stop_pct":  {0.01, 0.10, 0.005, 0.75},
		"pyramid_levels":  {1, 5, 1, 0.40},
	},
	strategy.FamilyGridTrading: {
		"grid_levels":        {3, 50, 1, 0.90},
		"grid_spacing_pct":   {0.001, 0.05, 0.001, 0.95},
		"order_size_pct":     {0.005, 0.10, 0.005, 0.70},
		"upper_band_pct":     {0.02, 0.30, 0.01, 0.60},
		"lower_band_pct":     {0.02, 0.30, 0.01, 0.60},
		"rebalance_interval": {1, 48, 1, 0.50},
	},
}

// fallback range for parameters with no curated mapping
const (
	fallbackWeight     = 0.5
	fallbackSpanFactor = 3.0 // range is [current/factor*0.9, current*factor] -> [0.3x, 3x]
)

// Map returns the parameter specifications for a strategy family's genome,
// ordered by descending importance weight (ties broken by name). Unknown
// parameter names fall back to an inferred range of [0.3x, 3x] the current
// value with a default mid-importance weight, so the mutation algorithm
// never special-cases missing mappings. Pure function of its inputs.
func Map(family strategy.Family, genome strategy.Genome) []Spec {
	curated := familyRanges[family]

	specs := make([]Spec, 0, len(genome))
	for name, value := range genome {
		if def, ok := curated[name]; ok {
			specs = append(specs, Spec{
				Name:    name,
				Current: value,
				Min:     def.Min,
				Max:     def.Max,
				Step:    def.Step,
				Weight:  def.Weight,
			})
			continue
		}
		specs = append(specs, inferSpec(name, value))
	}

	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Weight != specs[j].Weight {
			return specs[i].Weight > specs[j].Weight
		}
		return specs[i].Name < specs[j].Name
	})

	return specs
}

// inferSpec builds a fallback spec around the current value
func inferSpec(name string, value float64) Spec {
	if value == 0 {
		return Spec{Name: name, Current: 0, Min: 0, Max: 1, Step: 0.01, Weight: fallbackWeight}
	}

	lo := 0.3 * value
	hi := fallbackSpanFactor * value
	if value < 0 {
		lo, hi = hi, lo
	}

	return Spec{
		Name:    name,
		Current: value,
		Min:     lo,
		Max:     hi,
		Step:    stepFor(hi - lo),
		Weight:  fallbackWeight,
	}
}

// stepFor picks a step of roughly 1% of the span, rounded down to a
// power of ten so snapped values stay readable
func stepFor(span float64) float64 {
	if span <= 0 {
		return 0
	}
	raw := span / 100
	magnitude := math.Pow(10, math.Floor(math.Log10(raw)))
	return magnitude
}
