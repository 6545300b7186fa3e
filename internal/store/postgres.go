package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// PgxIface abstracts the pgx pool so unit tests can substitute pgxmock.
// *pgxpool.Pool satisfies it directly.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore persists strategies, evolution events, and snapshots in
// PostgreSQL. All multi-row writes run in a single transaction.
type PostgresStore struct {
	pool PgxIface
	log  zerolog.Logger
}

// NewPostgresStore connects a pool using the configured DSN
func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.PoolSize)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		log:  config.NewLogger("store"),
	}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Integration tests use it
// with testcontainers; unit tests use it with pgxmock.
func NewPostgresStoreFromPool(pool PgxIface) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  config.NewLogger("store"),
	}
}

const upsertStrategySQL = `
	INSERT INTO strategies (
		id, name, symbol, family, genome, schema_version,
		generation, cycle, parent_ids, method,
		fitness, metrics, realized_pnl,
		status, protection, allocation_ratio,
		created_at, updated_at, status_since, last_evolved, low_since
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		genome = EXCLUDED.genome,
		schema_version = EXCLUDED.schema_version,
		generation = EXCLUDED.generation,
		cycle = EXCLUDED.cycle,
		parent_ids = EXCLUDED.parent_ids,
		method = EXCLUDED.method,
		fitness = EXCLUDED.fitness,
		metrics = EXCLUDED.metrics,
		realized_pnl = EXCLUDED.realized_pnl,
		status = EXCLUDED.status,
		protection = EXCLUDED.protection,
		allocation_ratio = EXCLUDED.allocation_ratio,
		updated_at = EXCLUDED.updated_at,
		status_since = EXCLUDED.status_since,
		last_evolved = EXCLUDED.last_evolved,
		low_since = EXCLUDED.low_since`

const insertEventSQL = `
	INSERT INTO evolution_events (
		id, strategy_id, generation, cycle, type,
		old_genome, new_genome, old_fitness, new_fitness,
		improvement, triggered_by, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

func strategyArgs(s *strategy.Strategy) ([]any, error) {
	genomeJSON, err := json.Marshal(s.Genome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genome: %w", err)
	}
	metricsJSON, err := json.Marshal(s.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return []any{
		s.ID, s.Name, s.Symbol, string(s.Family), genomeJSON, s.SchemaVersion,
		s.Generation, s.Cycle, s.ParentIDs, string(s.Method),
		s.Fitness, metricsJSON, s.RealizedPnL,
		string(s.Status), int(s.Protection), s.AllocationRatio,
		s.CreatedAt, s.UpdatedAt, s.StatusSince, s.LastEvolved, s.LowSince,
	}, nil
}

func eventArgs(ev *strategy.EvolutionEvent) ([]any, error) {
	oldJSON, err := json.Marshal(ev.OldGenome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal old genome: %w", err)
	}
	newJSON, err := json.Marshal(ev.NewGenome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal new genome: %w", err)
	}
	return []any{
		ev.ID, ev.StrategyID, ev.Generation, ev.Cycle, string(ev.Type),
		oldJSON, newJSON, ev.OldFitness, ev.NewFitness,
		ev.Improvement, ev.Trigger, ev.CreatedAt,
	}, nil
}

func (p *PostgresStore) SaveStrategy(ctx context.Context, s *strategy.Strategy) error {
	args, err := strategyArgs(s)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertStrategySQL, args...); err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	return nil
}

// SaveStrategyWithEvent writes the strategy update and its evolution event
// in one transaction so a crash cannot leave a genome without its audit
// record or the other way around.
func (p *PostgresStore) SaveStrategyWithEvent(ctx context.Context, s *strategy.Strategy, ev *strategy.EvolutionEvent) error {
	stratArgs, err := strategyArgs(s)
	if err != nil {
		return err
	}
	evArgs, err := eventArgs(ev)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, upsertStrategySQL, stratArgs...); err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	if _, err := tx.Exec(ctx, insertEventSQL, evArgs...); err != nil {
		return fmt.Errorf("failed to insert evolution event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const selectStrategyCols = `
	id, name, symbol, family, genome, schema_version,
	generation, cycle, parent_ids, method,
	fitness, metrics, realized_pnl,
	status, protection, allocation_ratio,
	created_at, updated_at, status_since, last_evolved, low_since`

func scanStrategy(row pgx.Row) (*strategy.Strategy, error) {
	var (
		s           strategy.Strategy
		family      string
		method      string
		status      string
		protection  int
		genomeJSON  []byte
		metricsJSON []byte
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Symbol, &family, &genomeJSON, &s.SchemaVersion,
		&s.Generation, &s.Cycle, &s.ParentIDs, &method,
		&s.Fitness, &metricsJSON, &s.RealizedPnL,
		&status, &protection, &s.AllocationRatio,
		&s.CreatedAt, &s.UpdatedAt, &s.StatusSince, &s.LastEvolved, &s.LowSince,
	)
	if err != nil {
		return nil, err
	}

	s.Family = strategy.Family(family)
	s.Method = strategy.EvolutionMethod(method)
	s.Status = strategy.LifecycleStatus(status)
	s.Protection = strategy.ProtectionLevel(protection)

	if err := json.Unmarshal(genomeJSON, &s.Genome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genome: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, &s.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+selectStrategyCols+` FROM strategies WHERE id = $1`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ListStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+selectStrategyCols+` FROM strategies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []*strategy.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListEvents(ctx context.Context, strategyID string, limit, offset int) ([]*strategy.EvolutionEvent, int, error) {
	var total int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evolution_events WHERE strategy_id = $1`, strategyID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count evolution events: %w", err)
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, strategy_id, generation, cycle, type,
		       old_genome, new_genome, old_fitness, new_fitness,
		       improvement, triggered_by, created_at
		FROM evolution_events
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, strategyID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list evolution events: %w", err)
	}
	defer rows.Close()

	var out []*strategy.EvolutionEvent
	for rows.Next() {
		var (
			ev       strategy.EvolutionEvent
			evType   string
			oldJSON  []byte
			newJSON  []byte
			createdA time.Time
		)
		err := rows.Scan(
			&ev.ID, &ev.StrategyID, &ev.Generation, &ev.Cycle, &evType,
			&oldJSON, &newJSON, &ev.OldFitness, &ev.NewFitness,
			&ev.Improvement, &ev.Trigger, &createdA,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan evolution event: %w", err)
		}
		ev.Type = strategy.EvolutionMethod(evType)
		ev.CreatedAt = createdA
		if err := json.Unmarshal(oldJSON, &ev.OldGenome); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal old genome: %w", err)
		}
		if err := json.Unmarshal(newJSON, &ev.NewGenome); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal new genome: %w", err)
		}
		out = append(out, &ev)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) SaveSnapshot(ctx context.Context, snap *strategy.Snapshot) error {
	genomeJSON, err := json.Marshal(snap.Genome)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot genome: %w", err)
	}
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metrics: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO strategy_snapshots (id, strategy_id, genome, fitness, metrics, label, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		snap.ID, snap.StrategyID, genomeJSON, snap.Fitness, metricsJSON, snap.Label, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}
