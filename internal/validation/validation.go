// Package validation scores candidate genomes before they can replace a
// live genome. A candidate is trialed through an Estimator that predicts
// the metrics it would produce, and the runner attaches a confidence that
// reflects how much trade evidence backs the prediction.
package validation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/fitness"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// tradeEvidenceSaturation is the trade count at which evidence-based
// confidence reaches its maximum.
const tradeEvidenceSaturation = 100

// Estimator predicts the metrics a candidate genome would produce if it
// replaced the strategy's deployed genome. Implementations must be
// deterministic for a fixed seed.
type Estimator interface {
	Estimate(ctx context.Context, s *strategy.Strategy, candidate strategy.Genome) (strategy.MetricsBundle, error)
}

// Runner runs simulated validation trials for candidate genomes
type Runner struct {
	estimator Estimator
	goals     fitness.Goals
	log       zerolog.Logger
}

// NewRunner builds a validation runner around an estimator
func NewRunner(estimator Estimator, goals fitness.Goals) *Runner {
	return &Runner{
		estimator: estimator,
		goals:     goals,
		log:       config.NewLogger("validation"),
	}
}

// Score trials one candidate against the strategy's deployed genome and
// returns the predicted fitness with a confidence in [0,1]. Confidence
// grows with the strategy's accumulated trade evidence and shrinks with
// the candidate's distance from the deployed genome. Without any trade
// history or baseline metrics there is nothing to predict from and the
// record comes back unsuccessful.
func (r *Runner) Score(ctx context.Context, s *strategy.Strategy, candidate strategy.Genome) (*strategy.ValidationRecord, error) {
	rec := &strategy.ValidationRecord{
		StrategyID: s.ID,
		Candidate:  candidate.Clone(),
	}

	if s.Metrics.TradeCount == 0 && s.Metrics.Score == 0 {
		rec.Reason = "no trade history or baseline metrics"
		r.log.Debug().Str("strategy_id", s.ID).Msg("Validation rejected: no evidence")
		return rec, nil
	}

	predicted, err := r.estimator.Estimate(ctx, s, candidate)
	if err != nil {
		return nil, fmt.Errorf("estimator failed: %w", err)
	}

	predictedFitness, _ := fitness.Evaluate(predicted, r.goals)

	rec.Predicted = predicted
	rec.PredictedFitness = predictedFitness
	rec.Confidence = confidence(s.Metrics.TradeCount, candidate.Distance(s.Genome))
	rec.Success = true

	r.log.Debug().Str("strategy_id", s.ID).
		Float64("predicted_fitness", predictedFitness).
		Float64("confidence", rec.Confidence).
		Msg("Validation trial complete")
	return rec, nil
}

// confidence combines trade evidence with genome familiarity. Evidence
// saturates at tradeEvidenceSaturation trades; a candidate identical to
// the deployed genome keeps all of it, a maximally distant one none.
func confidence(tradeCount int, distance float64) float64 {
	evidence := math.Min(float64(tradeCount)/tradeEvidenceSaturation, 1.0)
	familiarity := 1.0 - math.Min(math.Max(distance, 0), 1)
	return evidence * familiarity
}

// HeuristicEstimator extrapolates candidate metrics from the strategy's
// current observed metrics. The extrapolation shifts each metric by a
// factor derived from the mean relative parameter change, discounted by
// how dispersed the changes are, plus a small seeded noise term.
type HeuristicEstimator struct {
	rng *rand.Rand
}

// NewHeuristicEstimator builds an estimator; seed 0 uses the clock
func NewHeuristicEstimator(seed int64) *HeuristicEstimator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &HeuristicEstimator{rng: rand.New(rand.NewSource(seed))}
}

func (e *HeuristicEstimator) Estimate(ctx context.Context, s *strategy.Strategy, candidate strategy.Genome) (strategy.MetricsBundle, error) {
	deltas := make([]float64, 0, len(candidate))
	for name, newVal := range candidate {
		oldVal, ok := s.Genome[name]
		if !ok {
			continue
		}
		denom := math.Max(math.Abs(oldVal), 1e-9)
		deltas = append(deltas, (newVal-oldVal)/denom)
	}
	if len(deltas) == 0 {
		return strategy.MetricsBundle{}, fmt.Errorf("candidate shares no parameters with deployed genome")
	}

	mean, err := stats.Mean(deltas)
	if err != nil {
		return strategy.MetricsBundle{}, fmt.Errorf("failed to compute delta mean: %w", err)
	}
	dispersion, err := stats.StandardDeviation(deltas)
	if err != nil {
		return strategy.MetricsBundle{}, fmt.Errorf("failed to compute delta dispersion: %w", err)
	}

	// scattered changes are less predictable, so their expected effect
	// is discounted toward zero
	discount := 1.0 / (1.0 + dispersion)
	noise := e.rng.NormFloat64() * 0.02
	shift := clamp(mean*0.1*discount+noise, -0.2, 0.2)

	base := s.Metrics
	predicted := strategy.MetricsBundle{
		Score:        clamp(base.Score*(1+shift), 0, 100),
		WinRate:      clamp(base.WinRate*(1+shift*0.5), 0, 1),
		TotalReturn:  base.TotalReturn * (1 + shift),
		AvgHoldTime:  time.Duration(float64(base.AvgHoldTime) * (1 - shift*0.25)),
		TradeCount:   base.TradeCount,
		ProfitFactor: math.Max(base.ProfitFactor*(1+shift*0.5), 0),
		MaxDrawdown:  math.Max(base.MaxDrawdown*(1-shift*0.5), 0),
		SharpeRatio:  base.SharpeRatio * (1 + shift*0.5),
	}
	return predicted, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
