package strategy

import (
	"math"
	"sort"
	"strings"
)

// ChangeCategory classifies a parameter change by what it affects
type ChangeCategory string

const (
	CategoryRisk    ChangeCategory = "risk"
	CategorySignal  ChangeCategory = "signal"
	CategoryTiming  ChangeCategory = "timing"
	CategoryGeneral ChangeCategory = "general"
)

// ParamChange describes one parameter's movement between two genomes
type ParamChange struct {
	Name      string         `json:"name"`
	Old       float64        `json:"old"`
	New       float64        `json:"new"`
	Delta     float64        `json:"delta"`
	Magnitude float64        `json:"magnitude"` // relative change, capped at 1.0
	Category  ChangeCategory `json:"category"`
}

// DiffAnalysis summarizes the impact of a genome change
type DiffAnalysis struct {
	Changes        []ParamChange  `json:"changes"`
	TotalMagnitude float64        `json:"total_magnitude"`
	Dominant       ChangeCategory `json:"dominant_category"`
	Recommendation string         `json:"recommendation"`
}

var categoryKeywords = map[ChangeCategory][]string{
	CategoryRisk:   {"stop", "loss", "drawdown", "risk", "position", "size", "leverage", "exposure"},
	CategoryTiming: {"period", "lookback", "window", "interval", "hold", "duration", "delay", "cooldown"},
	CategorySignal: {"threshold", "rsi", "ema", "sma", "macd", "momentum", "band", "deviation", "spread", "grid", "signal", "entry", "exit"},
}

// Categorize maps a parameter name to a change category by keyword match
func Categorize(name string) ChangeCategory {
	lower := strings.ToLower(name)
	for _, cat := range []ChangeCategory{CategoryRisk, CategoryTiming, CategorySignal} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryGeneral
}

// AnalyzeDiff compares two genomes and produces a per-parameter diff with
// change magnitudes, the dominant change category, and a recommended
// follow-up action for operators reviewing the evolution history.
func AnalyzeDiff(old, new Genome) DiffAnalysis {
	keys := make([]string, 0, len(old)+len(new))
	seen := make(map[string]struct{})
	for k := range old {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range new {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	analysis := DiffAnalysis{}
	categoryWeight := make(map[ChangeCategory]float64)

	for _, k := range keys {
		oldVal, hasOld := old[k]
		newVal, hasNew := new[k]
		if hasOld && hasNew && oldVal == newVal {
			continue
		}

		magnitude := 1.0
		if hasOld && hasNew {
			denom := math.Max(math.Max(math.Abs(oldVal), math.Abs(newVal)), 1e-9)
			magnitude = math.Min(math.Abs(newVal-oldVal)/denom, 1.0)
		}

		change := ParamChange{
			Name:      k,
			Old:       oldVal,
			New:       newVal,
			Delta:     newVal - oldVal,
			Magnitude: magnitude,
			Category:  Categorize(k),
		}
		analysis.Changes = append(analysis.Changes, change)
		analysis.TotalMagnitude += magnitude
		categoryWeight[change.Category] += magnitude
	}

	analysis.Dominant = CategoryGeneral
	best := 0.0
	for _, cat := range []ChangeCategory{CategoryRisk, CategorySignal, CategoryTiming, CategoryGeneral} {
		if w := categoryWeight[cat]; w > best {
			best = w
			analysis.Dominant = cat
		}
	}

	analysis.Recommendation = recommend(analysis)
	return analysis
}

func recommend(a DiffAnalysis) string {
	switch {
	case len(a.Changes) == 0:
		return "no parameter changes; no action required"
	case a.Dominant == CategoryRisk && a.TotalMagnitude >= 0.5:
		return "large risk-parameter shift; verify drawdown behavior in simulation before increasing exposure"
	case a.Dominant == CategoryRisk:
		return "risk parameters adjusted; monitor realized drawdown against the previous baseline"
	case a.TotalMagnitude >= 1.0:
		return "broad genome change; treat as a new strategy and let it re-earn its tier"
	case a.Dominant == CategoryTiming:
		return "timing parameters adjusted; compare average hold time over the next window"
	case a.Dominant == CategorySignal:
		return "signal parameters adjusted; watch win rate for degradation"
	default:
		return "minor tuning; routine monitoring is sufficient"
	}
}
