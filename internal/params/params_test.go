package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

func TestMapCuratedFamily(t *testing.T) {
	genome := strategy.Genome{
		"lookback_period": 20,
		"stop_loss_pct":   0.02,
		"rsi_period":      14,
	}

	specs := Map(strategy.FamilyMomentum, genome)
	require.Len(t, specs, 3)

	// Ordered by descending weight: stop_loss (0.95), lookback (0.90), rsi (0.50)
	assert.Equal(t, "stop_loss_pct", specs[0].Name)
	assert.Equal(t, "lookback_period", specs[1].Name)
	assert.Equal(t, "rsi_period", specs[2].Name)

	assert.Equal(t, 0.02, specs[0].Current)
	assert.Equal(t, 0.005, specs[0].Min)
	assert.Equal(t, 0.05, specs[0].Max)
}

func TestMapOrderingStableOnWeightTies(t *testing.T) {
	genome := strategy.Genome{"zeta": 10, "alpha": 10, "mid": 10}

	specs := Map(strategy.FamilyMomentum, genome)
	require.Len(t, specs, 3)

	// All fall back to the same weight, so order is alphabetical
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "mid", specs[1].Name)
	assert.Equal(t, "zeta", specs[2].Name)
}

func TestMapUnknownParameterFallback(t *testing.T) {
	genome := strategy.Genome{"custom_factor": 10.0}

	specs := Map(strategy.FamilyGridTrading, genome)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.InDelta(t, 3.0, spec.Min, 1e-9)
	assert.InDelta(t, 30.0, spec.Max, 1e-9)
	assert.Equal(t, 0.5, spec.Weight)
	assert.Greater(t, spec.Step, 0.0)
}

func TestMapUnknownFamilyUsesFallbackForEverything(t *testing.T) {
	genome := strategy.Genome{"a": 2.0, "b": 4.0}

	specs := Map(strategy.Family("unlisted"), genome)
	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, 0.5, spec.Weight)
	}
}

func TestInferSpecNegativeValue(t *testing.T) {
	spec := inferSpec("bias", -5.0)
	assert.Less(t, spec.Min, spec.Max)
	assert.InDelta(t, -15.0, spec.Min, 1e-9)
	assert.InDelta(t, -1.5, spec.Max, 1e-9)
}

func TestInferSpecZeroValue(t *testing.T) {
	spec := inferSpec("unused", 0)
	assert.Equal(t, 0.0, spec.Min)
	assert.Equal(t, 1.0, spec.Max)
	assert.Equal(t, 0.01, spec.Step)
}

func TestSpecClamp(t *testing.T) {
	spec := Spec{Min: 1, Max: 10}
	assert.Equal(t, 1.0, spec.Clamp(-5))
	assert.Equal(t, 10.0, spec.Clamp(100))
	assert.Equal(t, 5.0, spec.Clamp(5))
}

func TestSpecSnap(t *testing.T) {
	spec := Spec{Min: 0, Max: 100, Step: 5}
	assert.Equal(t, 35.0, spec.Snap(33.7))
	assert.Equal(t, 0.0, spec.Snap(-12))
	assert.Equal(t, 100.0, spec.Snap(250))

	// Zero step disables snapping
	free := Spec{Min: 0, Max: 1, Step: 0}
	assert.Equal(t, 0.123, free.Snap(0.123))
}

func TestMapIsPure(t *testing.T) {
	genome := strategy.Genome{"lookback_period": 20}

	first := Map(strategy.FamilyMomentum, genome)
	second := Map(strategy.FamilyMomentum, genome)

	assert.Equal(t, first, second)
	assert.Equal(t, 20.0, genome["lookback_period"], "input genome must not be mutated")
}
