package fitness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

func targetMetrics() strategy.MetricsBundle {
	return strategy.MetricsBundle{
		Score:        70,
		WinRate:      0.60,
		TotalReturn:  0.10,
		AvgHoldTime:  4 * time.Hour,
		TradeCount:   30,
		ProfitFactor: 1.5,
		MaxDrawdown:  0.10,
		SharpeRatio:  1.0,
	}
}

func TestEvaluateAtTargetsIsMaximal(t *testing.T) {
	f, c := Evaluate(targetMetrics(), DefaultGoals())

	assert.InDelta(t, 1.0, f, 1e-9, "meeting every target yields full weighted score")
	assert.Equal(t, 1.0, c.Score)
	assert.Equal(t, 1.0, c.WinRate)
	assert.Equal(t, 1.0, c.Drawdown)
	assert.Equal(t, 0.0, c.Bonus)
}

func TestEvaluateDeterminism(t *testing.T) {
	m := strategy.MetricsBundle{
		Score: 55, WinRate: 0.52, TotalReturn: 0.07, AvgHoldTime: 6 * time.Hour,
		TradeCount: 18, ProfitFactor: 1.2, MaxDrawdown: 0.12, SharpeRatio: 0.8,
	}
	goals := DefaultGoals()

	f1, c1 := Evaluate(m, goals)
	f2, c2 := Evaluate(m, goals)

	assert.Equal(t, f1, f2)
	assert.Equal(t, c1, c2)
}

func TestEvaluateBounds(t *testing.T) {
	zero, _ := Evaluate(strategy.MetricsBundle{MaxDrawdown: 5, AvgHoldTime: 100 * time.Hour}, DefaultGoals())
	assert.GreaterOrEqual(t, zero, 0.0)
	assert.LessOrEqual(t, zero, 1.0)

	stellar := strategy.MetricsBundle{
		Score: 100, WinRate: 0.95, TotalReturn: 0.5, AvgHoldTime: time.Hour,
		TradeCount: 500, ProfitFactor: 4, MaxDrawdown: 0.01, SharpeRatio: 3,
	}
	max, c := Evaluate(stellar, DefaultGoals())
	assert.Equal(t, 1.0, max)
	assert.InDelta(t, 0.20, c.Bonus, 1e-9, "all four stretch thresholds met")
}

func TestEvaluateMonotonicity(t *testing.T) {
	base := strategy.MetricsBundle{
		Score: 40, WinRate: 0.45, TotalReturn: 0.03, AvgHoldTime: 8 * time.Hour,
		TradeCount: 12, ProfitFactor: 1.1, MaxDrawdown: 0.15, SharpeRatio: 0.4,
	}
	goals := DefaultGoals()
	baseFitness, _ := Evaluate(base, goals)

	// Increasing any positive-oriented metric never decreases fitness
	for _, mutate := range []func(*strategy.MetricsBundle){
		func(m *strategy.MetricsBundle) { m.WinRate += 0.1 },
		func(m *strategy.MetricsBundle) { m.TotalReturn += 0.05 },
		func(m *strategy.MetricsBundle) { m.SharpeRatio += 0.5 },
		func(m *strategy.MetricsBundle) { m.ProfitFactor += 0.3 },
	} {
		m := base
		mutate(&m)
		improved, _ := Evaluate(m, goals)
		assert.GreaterOrEqual(t, improved, baseFitness)
	}

	// Increasing drawdown never increases fitness
	worse := base
	worse.MaxDrawdown += 0.1
	degraded, _ := Evaluate(worse, goals)
	assert.LessOrEqual(t, degraded, baseFitness)
}

func TestEvaluateShorterHoldTimeIsBetter(t *testing.T) {
	goals := DefaultGoals()

	slow := targetMetrics()
	slow.AvgHoldTime = 12 * time.Hour
	fast := targetMetrics()
	fast.AvgHoldTime = 2 * time.Hour

	slowF, slowC := Evaluate(slow, goals)
	fastF, fastC := Evaluate(fast, goals)

	assert.Greater(t, fastF, slowF)
	assert.Equal(t, 1.0, fastC.HoldTime, "below-target hold time gets full credit")
	assert.InDelta(t, 4.0/12.0, slowC.HoldTime, 1e-9)
}

func TestEvaluatePartialBonus(t *testing.T) {
	m := targetMetrics()
	m.WinRate = 0.85
	m.SharpeRatio = 2.0
	// return and drawdown stretches not met

	_, c := Evaluate(m, DefaultGoals())
	assert.InDelta(t, 0.10, c.Bonus, 1e-9)
}

func TestEvaluateNegativeMetricsFloorAtZero(t *testing.T) {
	m := strategy.MetricsBundle{
		Score: 10, WinRate: 0.2, TotalReturn: -0.4, AvgHoldTime: 4 * time.Hour,
		TradeCount: 5, ProfitFactor: 0.5, MaxDrawdown: 0.4, SharpeRatio: -1.2,
	}

	f, c := Evaluate(m, DefaultGoals())
	assert.Equal(t, 0.0, c.Return)
	assert.Equal(t, 0.0, c.Sharpe)
	assert.GreaterOrEqual(t, f, 0.0)
}
