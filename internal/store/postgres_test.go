package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

func testStrategy() *strategy.Strategy {
	return strategy.New("mr-eth", "ETHUSDT", strategy.FamilyMeanReversion, strategy.Genome{
		"zscore_entry": 2.0,
		"zscore_exit":  0.5,
	})
}

func TestNewPostgresStoreUnreachableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := &config.Config{Database: config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "evofunk",
		Database: "evofunk",
		SSLMode:  "disable",
		PoolSize: 2,
	}}
	_, err := NewPostgresStore(ctx, cfg)
	require.Error(t, err)
}

func TestPostgresSaveStrategy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)
	s := testStrategy()

	mock.ExpectExec("INSERT INTO strategies").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SaveStrategy(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveStrategyWithEventCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)
	s := testStrategy()
	ev := &strategy.EvolutionEvent{
		ID:         uuid.New().String(),
		StrategyID: s.ID,
		Generation: 1,
		Cycle:      2,
		Type:       strategy.MethodMutation,
		OldGenome:  s.Genome,
		NewGenome:  strategy.Genome{"zscore_entry": 2.2, "zscore_exit": 0.5},
		NewFitness: 0.5,
		Trigger:    "routine",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO strategies").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO evolution_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, st.SaveStrategyWithEvent(context.Background(), s, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveStrategyWithEventRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)
	s := testStrategy()
	ev := &strategy.EvolutionEvent{
		ID:         uuid.New().String(),
		StrategyID: s.ID,
		Type:       strategy.MethodMutation,
		OldGenome:  s.Genome,
		NewGenome:  s.Genome,
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO strategies").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO evolution_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = st.SaveStrategyWithEvent(context.Background(), s, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evolution event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetStrategy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)
	s := testStrategy()
	genomeJSON, _ := json.Marshal(s.Genome)
	metricsJSON, _ := json.Marshal(s.Metrics)

	rows := pgxmock.NewRows([]string{
		"id", "name", "symbol", "family", "genome", "schema_version",
		"generation", "cycle", "parent_ids", "method",
		"fitness", "metrics", "realized_pnl",
		"status", "protection", "allocation_ratio",
		"created_at", "updated_at", "status_since", "last_evolved", "low_since",
	}).AddRow(
		s.ID, s.Name, s.Symbol, string(s.Family), genomeJSON, s.SchemaVersion,
		s.Generation, s.Cycle, []string(nil), string(s.Method),
		s.Fitness, metricsJSON, s.RealizedPnL,
		string(s.Status), int(s.Protection), s.AllocationRatio,
		s.CreatedAt, s.UpdatedAt, s.StatusSince, s.LastEvolved, (*time.Time)(nil),
	)

	mock.ExpectQuery("SELECT(.|\n)+FROM strategies WHERE id").
		WithArgs(s.ID).
		WillReturnRows(rows)

	got, err := st.GetStrategy(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, strategy.FamilyMeanReversion, got.Family)
	assert.Equal(t, 2.0, got.Genome["zscore_entry"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetStrategyNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)

	mock.ExpectQuery("SELECT(.|\n)+FROM strategies WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = st.GetStrategy(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresStoreFromPool(mock)
	genomeJSON, _ := json.Marshal(strategy.Genome{"zscore_entry": 2.0})

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("sid").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT(.|\n)+FROM evolution_events").
		WithArgs("sid", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "strategy_id", "generation", "cycle", "type",
			"old_genome", "new_genome", "old_fitness", "new_fitness",
			"improvement", "triggered_by", "created_at",
		}).AddRow(
			"ev1", "sid", 1, 2, "mutation",
			genomeJSON, genomeJSON, 0.3, 0.4,
			0.1, "routine", time.Now().UTC(),
		))

	events, total, err := st.ListEvents(context.Background(), "sid", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, strategy.MethodMutation, events[0].Type)
	assert.InDelta(t, 0.1, events[0].Improvement, 1e-12)
	require.NoError(t, mock.ExpectationsWereMet())
}
