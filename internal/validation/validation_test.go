package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evofunk/internal/fitness"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

func baselineStrategy() *strategy.Strategy {
	s := strategy.New("mom-btc", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{
		"stop_loss_pct":   0.02,
		"take_profit_pct": 0.05,
		"lookback_period": 20,
	})
	s.Metrics = strategy.MetricsBundle{
		Score:        55,
		WinRate:      0.58,
		TotalReturn:  0.12,
		AvgHoldTime:  3 * time.Hour,
		TradeCount:   80,
		ProfitFactor: 1.4,
		MaxDrawdown:  0.08,
		SharpeRatio:  1.1,
	}
	s.Fitness = 0.55
	return s
}

func TestScoreNoEvidenceRejected(t *testing.T) {
	r := NewRunner(NewHeuristicEstimator(1), fitness.DefaultGoals())
	s := strategy.New("fresh", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{"stop_loss_pct": 0.02})

	rec, err := r.Score(context.Background(), s, s.Genome)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Reason)
	assert.Zero(t, rec.Confidence)
}

func TestScoreProducesBoundedRecord(t *testing.T) {
	r := NewRunner(NewHeuristicEstimator(7), fitness.DefaultGoals())
	s := baselineStrategy()

	candidate := s.Genome.Clone()
	candidate["stop_loss_pct"] = 0.025

	rec, err := r.Score(context.Background(), s, candidate)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.GreaterOrEqual(t, rec.PredictedFitness, 0.0)
	assert.LessOrEqual(t, rec.PredictedFitness, 1.0)
	assert.GreaterOrEqual(t, rec.Confidence, 0.0)
	assert.LessOrEqual(t, rec.Confidence, 1.0)
	assert.Equal(t, s.ID, rec.StrategyID)
	assert.Equal(t, 0.025, rec.Candidate["stop_loss_pct"])
}

func TestScoreDeterministicWithSeed(t *testing.T) {
	s := baselineStrategy()
	candidate := s.Genome.Clone()
	candidate["lookback_period"] = 25

	r1 := NewRunner(NewHeuristicEstimator(42), fitness.DefaultGoals())
	r2 := NewRunner(NewHeuristicEstimator(42), fitness.DefaultGoals())

	rec1, err := r1.Score(context.Background(), s, candidate)
	require.NoError(t, err)
	rec2, err := r2.Score(context.Background(), s, candidate)
	require.NoError(t, err)

	assert.Equal(t, rec1.PredictedFitness, rec2.PredictedFitness)
	assert.Equal(t, rec1.Predicted, rec2.Predicted)
	assert.Equal(t, rec1.Confidence, rec2.Confidence)
}

func TestConfidenceRisesWithTradeEvidence(t *testing.T) {
	prev := -1.0
	for _, trades := range []int{10, 40, 80, 100, 250} {
		c := confidence(trades, 0.1)
		assert.GreaterOrEqual(t, c, prev, "trades=%d", trades)
		prev = c
	}
	// saturation: beyond 100 trades no further gain
	assert.Equal(t, confidence(100, 0.1), confidence(500, 0.1))
}

func TestConfidenceFallsWithDistance(t *testing.T) {
	near := confidence(100, 0.05)
	far := confidence(100, 0.6)
	assert.Greater(t, near, far)
	assert.Zero(t, confidence(100, 1.0))
}

func TestHeuristicEstimatorSmallChangeStaysNearBaseline(t *testing.T) {
	est := NewHeuristicEstimator(3)
	s := baselineStrategy()

	candidate := s.Genome.Clone()
	candidate["stop_loss_pct"] = 0.021

	predicted, err := est.Estimate(context.Background(), s, candidate)
	require.NoError(t, err)

	// the shift factor is clamped to ±0.2 so every metric stays within
	// that envelope of the baseline
	assert.InDelta(t, s.Metrics.Score, predicted.Score, s.Metrics.Score*0.2+1e-9)
	assert.InDelta(t, s.Metrics.WinRate, predicted.WinRate, s.Metrics.WinRate*0.1+1e-9)
	assert.Equal(t, s.Metrics.TradeCount, predicted.TradeCount)
	assert.GreaterOrEqual(t, predicted.MaxDrawdown, 0.0)
}

func TestHeuristicEstimatorDisjointGenomeFails(t *testing.T) {
	est := NewHeuristicEstimator(3)
	s := baselineStrategy()

	_, err := est.Estimate(context.Background(), s, strategy.Genome{"unrelated": 1})
	assert.Error(t, err)
}
