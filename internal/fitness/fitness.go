// Package fitness converts observed strategy performance into a scalar
// multi-objective fitness in [0,1]. The evaluation is a pure function of
// its inputs, which keeps ranking reproducible across runs.
package fitness

import (
	"math"
	"time"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Component weights. They sum to 1.0; a balanced strategy scores well on
// all of them rather than overfitting a single metric.
const (
	weightScore        = 0.25
	weightWinRate      = 0.25
	weightReturn       = 0.15
	weightHoldTime     = 0.10
	weightTradeCount   = 0.05
	weightProfitFactor = 0.10
	weightDrawdown     = 0.05
	weightSharpe       = 0.05
)

// Stretch thresholds. Each one met adds bonusPerStretch, up to +0.20 for
// hitting all four simultaneously.
const (
	stretchWinRate  = 0.80
	stretchReturn   = 0.20
	stretchDrawdown = 0.05
	stretchSharpe   = 1.5

	bonusPerStretch = 0.05
)

// Goals is the target vector fitness components are normalized against
type Goals struct {
	TargetScore        float64       `mapstructure:"target_score"` // 0-100 scale
	TargetWinRate      float64       `mapstructure:"target_win_rate"`
	TargetReturn       float64       `mapstructure:"target_return"`
	TargetHoldTime     time.Duration `mapstructure:"target_hold_time"`
	TargetTradeCount   int           `mapstructure:"target_trade_count"`
	TargetProfitFactor float64       `mapstructure:"target_profit_factor"`
	TargetMaxDrawdown  float64       `mapstructure:"target_max_drawdown"`
	TargetSharpe       float64       `mapstructure:"target_sharpe"`
}

// DefaultGoals returns the standard target vector
func DefaultGoals() Goals {
	return Goals{
		TargetScore:        70,
		TargetWinRate:      0.60,
		TargetReturn:       0.10,
		TargetHoldTime:     4 * time.Hour,
		TargetTradeCount:   30,
		TargetProfitFactor: 1.5,
		TargetMaxDrawdown:  0.10,
		TargetSharpe:       1.0,
	}
}

// Components holds the per-objective sub-scores, each in [0,1], plus the
// stretch bonus applied on top of the weighted sum
type Components struct {
	Score        float64 `json:"score"`
	WinRate      float64 `json:"win_rate"`
	Return       float64 `json:"return"`
	HoldTime     float64 `json:"hold_time"`
	TradeCount   float64 `json:"trade_count"`
	ProfitFactor float64 `json:"profit_factor"`
	Drawdown     float64 `json:"drawdown"`
	Sharpe       float64 `json:"sharpe"`
	Bonus        float64 `json:"bonus"`
}

// Evaluate scores a metrics bundle against the goal vector, returning the
// scalar fitness in [0,1] and the per-objective component scores
func Evaluate(m strategy.MetricsBundle, goals Goals) (float64, Components) {
	c := Components{
		Score:        ratio(m.Score, goals.TargetScore),
		WinRate:      ratio(m.WinRate, goals.TargetWinRate),
		Return:       ratio(m.TotalReturn, goals.TargetReturn),
		HoldTime:     inverted(m.AvgHoldTime.Seconds(), goals.TargetHoldTime.Seconds()),
		TradeCount:   ratio(float64(m.TradeCount), float64(goals.TargetTradeCount)),
		ProfitFactor: ratio(m.ProfitFactor, goals.TargetProfitFactor),
		Drawdown:     inverted(m.MaxDrawdown, goals.TargetMaxDrawdown),
		Sharpe:       ratio(m.SharpeRatio, goals.TargetSharpe),
	}

	weighted := weightScore*c.Score +
		weightWinRate*c.WinRate +
		weightReturn*c.Return +
		weightHoldTime*c.HoldTime +
		weightTradeCount*c.TradeCount +
		weightProfitFactor*c.ProfitFactor +
		weightDrawdown*c.Drawdown +
		weightSharpe*c.Sharpe

	if m.WinRate >= stretchWinRate {
		c.Bonus += bonusPerStretch
	}
	if m.TotalReturn >= stretchReturn {
		c.Bonus += bonusPerStretch
	}
	if m.MaxDrawdown <= stretchDrawdown {
		c.Bonus += bonusPerStretch
	}
	if m.SharpeRatio >= stretchSharpe {
		c.Bonus += bonusPerStretch
	}

	return clamp01(weighted + c.Bonus), c
}

// ratio normalizes a positive-oriented metric against its target,
// capped at 1.0 and floored at 0
func ratio(observed, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return clamp01(observed / target)
}

// inverted normalizes a metric where smaller is better: full credit at or
// below the target, decaying as the observation grows past it
func inverted(observed, target float64) float64 {
	if observed <= 0 {
		return 1
	}
	if target <= 0 {
		return 0
	}
	return clamp01(target / observed)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
