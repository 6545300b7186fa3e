package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

func testProtectionConfig() config.ProtectionConfig {
	return config.ProtectionConfig{ProtectedScore: 50, EliteScore: 60}
}

func newTestLayer(t *testing.T) (*Layer, *MemoryStore) {
	t.Helper()
	mem := NewMemoryStore()
	return NewLayer(mem, testProtectionConfig()), mem
}

func registerStrategy(t *testing.T, l *Layer) *strategy.Strategy {
	t.Helper()
	s := strategy.New("mom-btc", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{
		"stop_loss_pct":   0.02,
		"lookback_period": 20,
	})
	require.NoError(t, l.Register(context.Background(), s))
	return s
}

func TestRegisterAndGet(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	got, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, strategy.StatusSimulationInit, got.Status)

	// returned copy must not alias the registry
	got.Genome["stop_loss_pct"] = 99
	again, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.02, again.Genome["stop_loss_pct"])
}

func TestRegisterDuplicateRejected(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	err := l.Register(context.Background(), s)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "unique_id", ie.Invariant)
}

func TestGetUnknown(t *testing.T) {
	l, _ := newTestLayer(t)
	_, err := l.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitGenome(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	newGenome := strategy.Genome{"stop_loss_pct": 0.025, "lookback_period": 25}
	ev, err := l.CommitGenome(context.Background(), s.ID, newGenome, 0.42, strategy.MethodMutation, "routine")
	require.NoError(t, err)

	assert.InDelta(t, 0.42, ev.NewFitness, 1e-12)
	assert.InDelta(t, 0.42, ev.Improvement, 1e-12)
	assert.Equal(t, 2, ev.Cycle)

	got, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.025, got.Genome["stop_loss_pct"])
	assert.Equal(t, 2, got.Cycle)
	assert.Equal(t, strategy.MethodMutation, got.Method)
	assert.False(t, got.LastEvolved.IsZero())

	events, total, err := l.History(context.Background(), s.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, 0.02, events[0].OldGenome["stop_loss_pct"])
}

func TestCommitGenomeAtomicity(t *testing.T) {
	l, mem := newTestLayer(t)
	s := registerStrategy(t, l)

	mem.FailNext(errors.New("disk full"))
	_, err := l.CommitGenome(context.Background(), s.ID,
		strategy.Genome{"stop_loss_pct": 0.04, "lookback_period": 50},
		0.9, strategy.MethodMutation, "urgent")
	require.Error(t, err)

	// previous genome stays live in memory and no event was recorded
	got, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.02, got.Genome["stop_loss_pct"])
	assert.Equal(t, 1, got.Cycle)

	_, total, err := l.History(context.Background(), s.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCommitGenomeRetiredRejected(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	require.NoError(t, l.TransitionStatus(context.Background(), s.ID, strategy.StatusRetired))

	_, err := l.CommitGenome(context.Background(), s.ID, s.Genome, 0.5, strategy.MethodMutation, "routine")
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "retired_terminal", ie.Invariant)
}

func TestGenerationAdvancesWithCycles(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	ctx := context.Background()
	for i := 0; i < cyclesPerGeneration; i++ {
		_, err := l.CommitGenome(ctx, s.ID, s.Genome, 0.3, strategy.MethodMutation, "routine")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, l.Generation())
	assert.Equal(t, cyclesPerGeneration+1, l.Cycle())
}

func TestTransitionStatus(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	ctx := context.Background()

	require.NoError(t, l.TransitionStatus(ctx, s.ID, strategy.StatusRealEnvSim))
	got, _ := l.Get(s.ID)
	assert.Equal(t, strategy.StatusRealEnvSim, got.Status)
	assert.WithinDuration(t, time.Now().UTC(), got.StatusSince, 2*time.Second)
}

func TestTransitionTierSkipRejected(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	err := l.TransitionStatus(context.Background(), s.ID, strategy.StatusFullReal)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "tier_adjacency", ie.Invariant)
}

func TestRetiredIsTerminal(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	ctx := context.Background()

	require.NoError(t, l.SetAllocation(ctx, s.ID, 0.05))
	require.NoError(t, l.TransitionStatus(ctx, s.ID, strategy.StatusRetired))

	got, _ := l.Get(s.ID)
	assert.Zero(t, got.AllocationRatio)

	err := l.TransitionStatus(ctx, s.ID, strategy.StatusSimulationInit)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
}

func TestProtectionMonotone(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	ctx := context.Background()

	require.NoError(t, l.Protect(ctx, s.ID, strategy.ProtectionElite, false))

	err := l.Protect(ctx, s.ID, strategy.ProtectionNone, false)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "protection_monotone", ie.Invariant)

	// administrative override is allowed
	require.NoError(t, l.Protect(ctx, s.ID, strategy.ProtectionNone, true))
	got, _ := l.Get(s.ID)
	assert.Equal(t, strategy.ProtectionNone, got.Protection)
}

func TestAutoProtectionOnMetrics(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	ctx := context.Background()

	require.NoError(t, l.UpdateMetrics(ctx, s.ID, strategy.MetricsBundle{Score: 55}, 0.55, 120))
	got, _ := l.Get(s.ID)
	assert.Equal(t, strategy.ProtectionProtected, got.Protection)

	require.NoError(t, l.UpdateMetrics(ctx, s.ID, strategy.MetricsBundle{Score: 66}, 0.66, 300))
	got, _ = l.Get(s.ID)
	assert.Equal(t, strategy.ProtectionElite, got.Protection)

	// a later slump never lowers the earned level
	require.NoError(t, l.UpdateMetrics(ctx, s.ID, strategy.MetricsBundle{Score: 20}, 0.20, -50))
	got, _ = l.Get(s.ID)
	assert.Equal(t, strategy.ProtectionElite, got.Protection)
}

func TestSetAllocationBounds(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)

	err := l.SetAllocation(context.Background(), s.ID, 1.2)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "allocation_bounds", ie.Invariant)
}

func TestRestoreResumesCounters(t *testing.T) {
	mem := NewMemoryStore()
	l := NewLayer(mem, testProtectionConfig())
	ctx := context.Background()

	s := strategy.New("trend-eth", "ETHUSDT", strategy.FamilyTrendFollow, strategy.Genome{
		"trend_strength_min": 25,
	})
	require.NoError(t, l.Register(ctx, s))
	for i := 0; i < 5; i++ {
		_, err := l.CommitGenome(ctx, s.ID, s.Genome, 0.4, strategy.MethodMutation, "routine")
		require.NoError(t, err)
	}

	// a fresh layer over the same store resumes where the old one stopped
	l2 := NewLayer(mem, testProtectionConfig())
	require.NoError(t, l2.Restore(ctx))
	assert.Equal(t, l.Generation(), l2.Generation())
	assert.Equal(t, l.Cycle(), l2.Cycle())

	got, err := l2.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Cycle)
}

func TestRestoreSkipsIncompatibleSchema(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	good := strategy.New("mom-btc", "BTCUSDT", strategy.FamilyMomentum, strategy.Genome{"stop_loss_pct": 0.02})
	bad := strategy.New("mom-eth", "ETHUSDT", strategy.FamilyMomentum, strategy.Genome{"stop_loss_pct": 0.02})
	bad.SchemaVersion = "2.0.0"
	require.NoError(t, mem.SaveStrategy(ctx, good))
	require.NoError(t, mem.SaveStrategy(ctx, bad))

	l := NewLayer(mem, testProtectionConfig())
	require.NoError(t, l.Restore(ctx))

	_, err := l.Get(good.ID)
	assert.NoError(t, err)
	_, err = l.Get(bad.ID)
	assert.ErrorIs(t, err, ErrNotFound, "a strategy written by a newer engine must not be loaded")
}

func TestRestoreEmptyStore(t *testing.T) {
	l, _ := newTestLayer(t)
	require.NoError(t, l.Restore(context.Background()))
	assert.Equal(t, 1, l.Generation())
	assert.Equal(t, 1, l.Cycle())
	assert.Empty(t, l.List())
}

func TestHistoryPagination(t *testing.T) {
	l, _ := newTestLayer(t)
	s := registerStrategy(t, l)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.CommitGenome(ctx, s.ID, s.Genome, float64(i)*0.1, strategy.MethodMutation, "routine")
		require.NoError(t, err)
	}

	page, total, err := l.History(ctx, s.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	// newest first
	assert.InDelta(t, 0.4, page[0].NewFitness, 1e-12)

	page, _, err = l.History(ctx, s.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.InDelta(t, 0.0, page[0].NewFitness, 1e-12)
}

func TestSnapshotSkipsRetired(t *testing.T) {
	l, mem := newTestLayer(t)
	a := registerStrategy(t, l)
	ctx := context.Background()

	b := strategy.New("grid-sol", "SOLUSDT", strategy.FamilyGridTrading, strategy.Genome{"grid_levels": 10})
	require.NoError(t, l.Register(ctx, b))
	require.NoError(t, l.TransitionStatus(ctx, b.ID, strategy.StatusRetired))

	require.NoError(t, l.Snapshot(ctx, "pre-deploy"))
	snaps := mem.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, a.ID, snaps[0].StrategyID)
	assert.Equal(t, "pre-deploy", snaps[0].Label)
}
